package action

import (
	"fmt"
	"math"

	"github.com/linchenxuan/slingshot/bitstream"
)

const (
	// PacketNumberBits wraps the packet counter roughly every minute at the sync rate.
	PacketNumberBits = 12
	nodeCountBits    = 9
	// MaxNodes is the largest node, projectile or sound list in one packet.
	MaxNodes = 1<<nodeCountBits - 1
	// MaxPacketNumber is the exclusive upper bound of PhysicsSyncData.PacketNumber.
	MaxPacketNumber = 1 << PacketNumberBits

	soundIndexBits    = 9
	soundNoteBits     = 7
	soundVelocityBits = 7
)

var (
	positionCompressor         = bitstream.NewFloatCompressor(-80, 80, 16)
	orientationCompressor      = bitstream.NewFloatCompressor(-1/math.Sqrt2, 1/math.Sqrt2, 12)
	velocityCompressor         = bitstream.NewFloatCompressor(-200, 200, 16)
	angularMagnitudeCompressor = bitstream.NewFloatCompressor(-200, 200, 16)
	angularAxisCompressor      = bitstream.NewFloatCompressor(-1, 1, 12)
	modWheelCompressor         = bitstream.NewFloatCompressor(0, 1, 7)
)

// Team owns a physics node. Most nodes have no team, so the encoding spends one bit on that case.
// Team is the side a player or object belongs to.
type Team uint8

// Teams, in wire order.
const (
	TeamNone Team = iota
	TeamA
	TeamB
)

func (t Team) encode(w *bitstream.Writable) {
	switch t {
	case TeamNone:
		w.AppendBool(false)
	case TeamA:
		w.AppendBool(true)
		w.AppendBool(true)
	case TeamB:
		w.AppendBool(true)
		w.AppendBool(false)
	default:
		w.Fail(fmt.Errorf("%w: team %d", bitstream.ErrEncoding, t))
	}
}

func (d *decoder) team() Team {
	if !d.bool() {
		return TeamNone
	}
	if d.bool() {
		return TeamA
	}
	return TeamB
}

// PhysicsNodeData is the synchronized state of one rigid body.
// Orientation is a unit quaternion (X, Y, Z, W). AngularVelocity holds the rotation axis in
// X, Y, Z and the magnitude in W.
type PhysicsNodeData struct {
	IsAlive         bool // Cleared once the node is destroyed
	IsMoving        bool // Velocities are only sent for moving nodes
	Team            Team // Owning team, usually TeamNone
	Position        Vec3 // Compressed to 16 bits per axis within [-80, 80]
	Orientation     Vec4 // Sent as the smallest three components
	Velocity        Vec3 // Linear velocity
	AngularVelocity Vec4 // Axis in X, Y, Z and magnitude in W
}

func (n PhysicsNodeData) encode(w *bitstream.Writable) {
	w.AppendBool(n.IsAlive)
	if !n.IsAlive {
		return
	}
	w.AppendBool(n.IsMoving)
	n.Team.encode(w)

	positionCompressor.WriteVec(w, n.Position.X, n.Position.Y, n.Position.Z)

	// Smallest three: send the index of the largest component, then the other three.
	q := [4]float32{n.Orientation.X, n.Orientation.Y, n.Orientation.Z, n.Orientation.W}
	largest := 0
	for i := 1; i < 4; i++ {
		if abs32(q[i]) > abs32(q[largest]) {
			largest = i
		}
	}
	w.AppendUInt32(uint32(largest), 2)
	// q and -q are the same rotation; flipping keeps the largest component positive.
	if q[largest] < 0 {
		for i := range q {
			q[i] = -q[i]
		}
	}
	for i, c := range q {
		if i != largest {
			orientationCompressor.Write(w, c)
		}
	}

	if !n.IsMoving {
		return
	}
	velocityCompressor.WriteVec(w, n.Velocity.X, n.Velocity.Y, n.Velocity.Z)

	av := n.AngularVelocity
	if isNaN32(av.X) || isNaN32(av.Y) || isNaN32(av.Z) || isNaN32(av.W) {
		av = Vec4{}
	}
	axis := normalize(Vec3{av.X, av.Y, av.Z})
	angularAxisCompressor.WriteVec(w, axis.X, axis.Y, axis.Z)
	angularMagnitudeCompressor.Write(w, av.W)
}

func (d *decoder) physicsNode() PhysicsNodeData {
	var n PhysicsNodeData
	n.IsAlive = d.bool()
	if !n.IsAlive || d.err != nil {
		return n
	}
	n.IsMoving = d.bool()
	n.Team = d.team()
	n.Position = Vec3{
		X: d.compressed(positionCompressor),
		Y: d.compressed(positionCompressor),
		Z: d.compressed(positionCompressor),
	}

	largest := int(d.uint32(2))
	var q [4]float32
	var sum float32
	for i := range q {
		if i == largest {
			continue
		}
		q[i] = d.compressed(orientationCompressor)
		sum += q[i] * q[i]
	}
	if sum < 1 {
		q[largest] = float32(math.Sqrt(float64(1 - sum)))
	}
	n.Orientation = Vec4{q[0], q[1], q[2], q[3]}

	if !n.IsMoving || d.err != nil {
		return n
	}
	n.Velocity = Vec3{
		X: d.compressed(velocityCompressor),
		Y: d.compressed(velocityCompressor),
		Z: d.compressed(velocityCompressor),
	}
	axis := Vec3{
		X: d.compressed(angularAxisCompressor),
		Y: d.compressed(angularAxisCompressor),
		Z: d.compressed(angularAxisCompressor),
	}
	magnitude := d.compressed(angularMagnitudeCompressor)
	n.AngularVelocity = Vec4{axis.X, axis.Y, axis.Z, magnitude}
	return n
}

// CollisionSoundData replays a collision sound on every peer.
type CollisionSoundData struct {
	GameObjectIndex uint32  // 9-bit index of the sounding object
	Note            uint8   // 7-bit MIDI note
	Velocity        uint8   // 7-bit MIDI velocity
	ModWheel        float32 // Compressed to 7 bits within [0, 1]
}

func (s CollisionSoundData) encode(w *bitstream.Writable) {
	w.AppendUInt32(s.GameObjectIndex, soundIndexBits)
	w.AppendUInt32(uint32(s.Note), soundNoteBits)
	w.AppendUInt32(uint32(s.Velocity), soundVelocityBits)
	modWheelCompressor.Write(w, s.ModWheel)
}

func (d *decoder) collisionSound() CollisionSoundData {
	return CollisionSoundData{
		GameObjectIndex: d.uint32(soundIndexBits),
		Note:            uint8(d.uint32(soundNoteBits)),
		Velocity:        uint8(d.uint32(soundVelocityBits)),
		ModWheel:        d.compressed(modWheelCompressor),
	}
}

// PhysicsSyncData is one physics snapshot broadcast by the host.
type PhysicsSyncData struct {
	PacketNumber   uint32               // Wraps at 12 bits
	NodeData       []PhysicsNodeData    // Static and dynamic bodies
	ProjectileData []PhysicsNodeData    // Balls in flight
	SoundData      []CollisionSoundData // Collision sounds to replay
}

func (p PhysicsSyncData) encode(w *bitstream.Writable) {
	w.AppendUInt32(p.PacketNumber, PacketNumberBits)
	encodeList(w, p.NodeData)
	encodeList(w, p.ProjectileData)
	encodeList(w, p.SoundData)
}

type listEncoder interface {
	encode(w *bitstream.Writable)
}

func encodeList[T listEncoder](w *bitstream.Writable, items []T) {
	if len(items) > MaxNodes {
		w.Fail(fmt.Errorf("%w: %d entries, at most %d", bitstream.ErrOverflow, len(items), MaxNodes))
		return
	}
	w.AppendUInt32(uint32(len(items)), nodeCountBits)
	for _, it := range items {
		it.encode(w)
	}
}

func decodeList[T any](d *decoder, read func() T) []T {
	count := d.uint32(nodeCountBits)
	var out []T
	for i := uint32(0); i < count && d.err == nil; i++ {
		out = append(out, read())
	}
	return out
}

func (d *decoder) physicsSyncData() PhysicsSyncData {
	var p PhysicsSyncData
	p.PacketNumber = d.uint32(PacketNumberBits)
	p.NodeData = decodeList(d, d.physicsNode)
	p.ProjectileData = decodeList(d, d.physicsNode)
	p.SoundData = decodeList(d, d.collisionSound)
	return p
}

func abs32(v float32) float32 {
	return float32(math.Abs(float64(v)))
}

func isNaN32(v float32) bool {
	return v != v
}

// normalize returns v scaled to unit length, or the zero vector when v has no length.
func normalize(v Vec3) Vec3 {
	length := math.Sqrt(float64(v.X*v.X + v.Y*v.Y + v.Z*v.Z))
	if length == 0 || math.IsNaN(length) {
		return Vec3{}
	}
	return Vec3{float32(float64(v.X) / length), float32(float64(v.Y) / length), float32(float64(v.Z) / length)}
}
