package game

import "math"

// CurveParams tune how fast the displayed multiplier climbs. They are product
// knobs, not derived constants; the defaults pace a 2.00x crash at roughly
// five seconds of run time.
type CurveParams struct {
	GrowthBase float64
	TimeFactor float64
}

func DefaultCurveParams() CurveParams {
	return CurveParams{
		GrowthBase: 1.018,
		TimeFactor: 8,
	}
}

// Curve maps elapsed run time to the current multiplier.
type Curve struct {
	params CurveParams
}

func NewCurve(params CurveParams) *Curve {
	if params.GrowthBase <= 1 || params.TimeFactor <= 0 {
		params = DefaultCurveParams()
	}
	return &Curve{params: params}
}

// ValueAt returns growthBase^(elapsed*timeFactor). Strictly increasing in
// elapsed; the same function backs both the display snapshot and the crash
// check so the screen can never outrun the drawn crash point.
func (c *Curve) ValueAt(elapsedSeconds float64) float64 {
	if elapsedSeconds < 0 {
		elapsedSeconds = 0
	}
	return math.Pow(c.params.GrowthBase, elapsedSeconds*c.params.TimeFactor)
}

// TimeToReach returns how many seconds ValueAt needs to hit target.
func (c *Curve) TimeToReach(target float64) float64 {
	if target <= 1 {
		return 0
	}
	return math.Log(target) / (c.params.TimeFactor * math.Log(c.params.GrowthBase))
}

// displayMultiplier truncates to two decimals so the rendered value never
// exceeds the true curve value.
func displayMultiplier(m float64) float64 {
	return math.Floor(m*100) / 100
}
