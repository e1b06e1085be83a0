package rotator

import "math"

// equhor converts between azimuth/altitude and hour-angle/declination.
// Phi is the observer's latitude. Azimuth is measured from north through east.
// Arguments are in radians
// Algorithm from https://metacpan.org/dist/Astro-Montenbruck/source/lib/Astro/Montenbruck/CoCo.pm
func equhor_rad(x, y, phi float64) (float64, float64) {
	sx, sy, sphi := math.Sin(x), math.Sin(y), math.Sin(phi)
	cx, cy, cphi := math.Cos(x), math.Cos(y), math.Cos(phi)

	sq := clamp((sy * sphi) + (cy * cphi * cx))
	q := math.Asin(sq)

	den := cphi * math.Cos(q)
	if math.Abs(den) < 1e-12 {
		// At a pole the other coordinate is undefined.
		return 0, q
	}
	p := math.Acos(clamp((sy - (sphi * sq)) / den))
	if sx > 1e-12 {
		p = 2*math.Pi - p
	}
	return p, q
}

func clamp(x float64) float64 {
	return math.Max(-1, math.Min(1, x))
}

func deg2rad(x float64) float64 {
	return x * math.Pi / 180
}

func rad2deg(x float64) float64 {
	return x * 180 / math.Pi
}

func equhor_deg(x, y, phi float64) (float64, float64) {
	x, y, phi = deg2rad(x), deg2rad(y), deg2rad(phi)
	p, q := equhor_rad(x, y, phi)
	return rad2deg(p), rad2deg(q)
}

// HourAngleDeclination returns the hour angle and declination, in degrees, of
// the direction p as seen from latitude. The hour angle is in [0, 360).
func HourAngleDeclination(p Position, latitude float64) (hourAngle, declination float64) {
	return equhor_deg(p.Azimuth, p.Elevation, latitude)
}

// Transformer decorates status snapshots with the equatorial coordinates of
// the reported position before passing them on.
type Transformer struct {
	latitude     float64
	origCallback StatusCallback
}

type TransformerStatus struct {
	Status      `json:"status"`
	HourAngle   float64 `json:"hour_angle"`
	Declination float64 `json:"declination"`
}

func (s TransformerStatus) Clone() Status {
	s.Status = s.Status.Clone()
	return s
}

func NewTransformer(latitude float64, statusCallback StatusCallback) *Transformer {
	return &Transformer{latitude: latitude, origCallback: statusCallback}
}

func (t *Transformer) StatusCallback(status Status) {
	ha, dec := HourAngleDeclination(Position{
		Azimuth:   status.AzimuthPosition(),
		Elevation: status.ElevationPosition(),
	}, t.latitude)

	t.origCallback(TransformerStatus{
		Status:      status,
		HourAngle:   ha,
		Declination: dec,
	})
}
