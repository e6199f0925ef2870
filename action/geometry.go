package action

import (
	"math"

	"github.com/linchenxuan/slingshot/bitstream"
)

// Vec3 is a three component float vector.
type Vec3 struct {
	X, Y, Z float32
}

// Vec4 is a four component float vector.
type Vec4 struct {
	X, Y, Z, W float32
}

// Float4x4 is a column-major 4x4 transform.
type Float4x4 [4]Vec4

// Identity returns the identity transform.
func Identity() Float4x4 {
	return Float4x4{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}
}

// Ray is a position and a direction.
type Ray struct {
	Position  Vec3 // Origin of the ray
	Direction Vec3 // Unit length
}

// GameVelocity is an origin plus a velocity vector. Unlike Ray the vector is not normalized.
type GameVelocity struct {
	Origin Vec3 // Launch point
	Vector Vec3 // Launch velocity, not normalized
}

// CameraInfo carries a peer's camera transform.
type CameraInfo struct {
	Transform Float4x4 // Camera to world
}

// Ray returns the camera's viewing ray: the translation column and the normalized -Z axis.
func (c CameraInfo) Ray() Ray {
	t := c.Transform
	dir := Vec3{-t[2].X, -t[2].Y, -t[2].Z}
	length := float32(math.Sqrt(float64(dir.X*dir.X + dir.Y*dir.Y + dir.Z*dir.Z)))
	if length > 0 {
		dir = Vec3{dir.X / length, dir.Y / length, dir.Z / length}
	}
	return Ray{Position: Vec3{t[3].X, t[3].Y, t[3].Z}, Direction: dir}
}

func (v Vec3) encode(w *bitstream.Writable) {
	w.AppendFloat(v.X)
	w.AppendFloat(v.Y)
	w.AppendFloat(v.Z)
}

func (d *decoder) vec3() Vec3 {
	return Vec3{X: d.float(), Y: d.float(), Z: d.float()}
}

func (v Vec4) encode(w *bitstream.Writable) {
	w.AppendFloat(v.X)
	w.AppendFloat(v.Y)
	w.AppendFloat(v.Z)
	w.AppendFloat(v.W)
}

func (d *decoder) vec4() Vec4 {
	return Vec4{X: d.float(), Y: d.float(), Z: d.float(), W: d.float()}
}

func (m Float4x4) encode(w *bitstream.Writable) {
	for _, col := range m {
		col.encode(w)
	}
}

func (d *decoder) float4x4() Float4x4 {
	var m Float4x4
	for i := range m {
		m[i] = d.vec4()
	}
	return m
}

func (r Ray) encode(w *bitstream.Writable) {
	r.Position.encode(w)
	r.Direction.encode(w)
}

func (d *decoder) ray() Ray {
	return Ray{Position: d.vec3(), Direction: d.vec3()}
}

func (v GameVelocity) encode(w *bitstream.Writable) {
	v.Origin.encode(w)
	v.Vector.encode(w)
}

func (d *decoder) velocity() GameVelocity {
	return GameVelocity{Origin: d.vec3(), Vector: d.vec3()}
}

func (c CameraInfo) encode(w *bitstream.Writable) {
	c.Transform.encode(w)
}

func (d *decoder) camera() CameraInfo {
	return CameraInfo{Transform: d.float4x4()}
}
