package smoothing

import "math"

// Initial covariance: positions start near the first measurement,
// velocities are unknown.
const (
	initialPosVariance = 1e-2
	initialVelVariance = 1.0

	// minDeterminant guards the innovation covariance inverse.
	minDeterminant = 1e-18
)

// KalmanState is the constant-velocity filter state of one keypoint.
// P is the 4×4 covariance over [x, y, vx, vy] in row-major order.
type KalmanState struct {
	X, Y   float64
	VX, VY float64
	P      [16]float64
}

func newKalmanState(x, y float64) KalmanState {
	ks := KalmanState{X: x, Y: y}
	ks.P[0*4+0] = initialPosVariance
	ks.P[1*4+1] = initialPosVariance
	ks.P[2*4+2] = initialVelVariance
	ks.P[3*4+3] = initialVelVariance
	return ks
}

// predict applies the prediction step of the constant velocity model.
// q is the white-noise acceleration spectral density.
func (k *KalmanState) predict(dt, q float64) {
	// F = [1  0  dt  0 ]
	//     [0  1  0   dt]
	//     [0  0  1   0 ]
	//     [0  0  0   1 ]
	k.X += k.VX * dt
	k.Y += k.VY * dt

	// P' = F * P * F^T + Q
	P := k.P
	var FP [16]float64
	for j := 0; j < 4; j++ {
		FP[0*4+j] = P[0*4+j] + dt*P[2*4+j]
		FP[1*4+j] = P[1*4+j] + dt*P[3*4+j]
		FP[2*4+j] = P[2*4+j]
		FP[3*4+j] = P[3*4+j]
	}
	for i := 0; i < 4; i++ {
		k.P[i*4+0] = FP[i*4+0] + dt*FP[i*4+2]
		k.P[i*4+1] = FP[i*4+1] + dt*FP[i*4+3]
		k.P[i*4+2] = FP[i*4+2]
		k.P[i*4+3] = FP[i*4+3]
	}

	// Discrete white-noise acceleration:
	// Q = q * [dt³/3  0      dt²/2  0    ]
	//         [0      dt³/3  0      dt²/2]
	//         [dt²/2  0      dt     0    ]
	//         [0      dt²/2  0      dt   ]
	pp := q * dt * dt * dt / 3
	pv := q * dt * dt / 2
	vv := q * dt
	k.P[0*4+0] += pp
	k.P[1*4+1] += pp
	k.P[0*4+2] += pv
	k.P[2*4+0] += pv
	k.P[1*4+3] += pv
	k.P[3*4+1] += pv
	k.P[2*4+2] += vv
	k.P[3*4+3] += vv
}

// update applies the measurement update for an observed position with
// isotropic measurement variance r. Returns false, leaving the state
// untouched, when the innovation covariance is singular.
func (k *KalmanState) update(zx, zy, r float64) bool {
	yX := zx - k.X
	yY := zy - k.Y

	// S = H * P * H^T + R
	S00 := k.P[0*4+0] + r
	S01 := k.P[0*4+1]
	S10 := k.P[1*4+0]
	S11 := k.P[1*4+1] + r

	det := S00*S11 - S01*S10
	if math.Abs(det) < minDeterminant || math.IsNaN(det) {
		return false
	}
	invS00 := S11 / det
	invS01 := -S01 / det
	invS10 := -S10 / det
	invS11 := S00 / det

	// K = P * H^T * S^-1 (4×2)
	var K [8]float64
	for i := 0; i < 4; i++ {
		K[i*2+0] = k.P[i*4+0]*invS00 + k.P[i*4+1]*invS10
		K[i*2+1] = k.P[i*4+0]*invS01 + k.P[i*4+1]*invS11
	}

	k.X += K[0*2+0]*yX + K[0*2+1]*yY
	k.Y += K[1*2+0]*yX + K[1*2+1]*yY
	k.VX += K[2*2+0]*yX + K[2*2+1]*yY
	k.VY += K[3*2+0]*yX + K[3*2+1]*yY

	// P' = (I - K*H) * P, with H selecting the two position components.
	var IminusKH [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var v float64
			if i == j {
				v = 1
			}
			switch j {
			case 0:
				v -= K[i*2+0]
			case 1:
				v -= K[i*2+1]
			}
			IminusKH[i*4+j] = v
		}
	}
	var newP [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for m := 0; m < 4; m++ {
				sum += IminusKH[i*4+m] * k.P[m*4+j]
			}
			newP[i*4+j] = sum
		}
	}
	k.P = newP
	return true
}

// positionAt extrapolates the position dt seconds ahead without changing
// the state.
func (k KalmanState) positionAt(dt float64) (float64, float64) {
	return k.X + k.VX*dt, k.Y + k.VY*dt
}

// measurementVariance scales the base measurement noise by inverse
// confidence. Confidence is floored at 0.1 so the variance stays finite.
func measurementVariance(base float64, confidence float32) float64 {
	return base / math.Max(float64(confidence), 0.1)
}
