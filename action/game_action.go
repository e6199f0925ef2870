package action

import (
	"fmt"

	"github.com/linchenxuan/slingshot/bitstream"
)

const (
	catapultIDBits = 4
	leverIDBits    = 3
)

// GameAction is an in-game interaction.
type GameAction interface {
	gameActionKey() gameActionKey
	encode(w *bitstream.Writable)
}

type gameActionKey uint8

const (
	keyOneHitKOAnimate gameActionKey = iota
	keyTryGrab
	keyGrabStart
	keyGrabMove
	keyTryRelease
	keyReleaseEnd
	keyCatapultRelease
	keyGrabbableStatus
	keyKnockoutSync
	keyHitCatapult
	keyLeverMove
	keyPhysics
	gameActionKeyCount
)

// CaseCount sizes the game action discriminator. Adding a case changes the wire width,
// so peers on different builds stop understanding each other.
func (gameActionKey) CaseCount() uint32 { return uint32(gameActionKeyCount) }

// OptionalID is a small identifier that may be absent. It is written as a presence bit followed
// by the value only when Valid is set.
type OptionalID struct {
	ID    uint32 // Written in 4 bits when Valid
	Valid bool   // Presence bit
}

// SomeID returns a present OptionalID.
func SomeID(id uint32) OptionalID {
	return OptionalID{ID: id, Valid: true}
}

// GrabInfo identifies what a player is grabbing and from where.
type GrabInfo struct {
	GrabbableID OptionalID // Absent when grabbing nothing in particular
	Camera      CameraInfo // Grabber camera at the time of the action
}

func (g GrabInfo) encode(w *bitstream.Writable) {
	w.AppendBool(g.GrabbableID.Valid)
	if g.GrabbableID.Valid {
		w.AppendUInt32(g.GrabbableID.ID, catapultIDBits)
	}
	g.Camera.encode(w)
}

func (d *decoder) grabInfo() GrabInfo {
	var g GrabInfo
	if d.bool() {
		g.GrabbableID = SomeID(d.uint32(catapultIDBits))
	}
	g.Camera = d.camera()
	return g
}

// ProjectileType is the kind of ball a catapult launches.
// ProjectileType selects what a catapult fires.
type ProjectileType uint8

// Projectile kinds, in wire order.
const (
	ProjectileNone ProjectileType = iota
	ProjectileCannonball
	ProjectileChicken
	projectileTypeCount
)

// CaseCount returns the number of projectile kinds.
func (ProjectileType) CaseCount() uint32 { return uint32(projectileTypeCount) }

// InteractionState is the phase of a continuous interaction.
type InteractionState uint8

// Interaction phases, in wire order.
const (
	InteractionBegan InteractionState = iota
	InteractionUpdate
	InteractionEnded
	interactionStateCount
)

// CaseCount returns the number of interaction phases.
func (InteractionState) CaseCount() uint32 { return uint32(interactionStateCount) }

// SlingData describes a catapult launch.
type SlingData struct {
	CatapultID     uint32         // 4-bit catapult index
	ProjectileType ProjectileType // Kind of ball launched
	Velocity       GameVelocity   // Launch origin and velocity
}

// OneHitKOAnimate triggers the one-hit knockout animation.
type OneHitKOAnimate struct{}

// TryGrab asks the host for permission to grab.
type TryGrab struct{ Info GrabInfo }

// GrabStart announces a granted grab.
type GrabStart struct{ Info GrabInfo }

// GrabMove streams the grabber's camera while grabbing.
type GrabMove struct{ Info GrabInfo }

// TryRelease asks to release a grabbed object.
type TryRelease struct{ Info GrabInfo }

// ReleaseEnd announces a completed release.
type ReleaseEnd struct{ Info GrabInfo }

// CatapultRelease launches a projectile.
type CatapultRelease struct{ Sling SlingData }

// GrabbableStatus reports availability of a grabbable.
type GrabbableStatus struct{ Info GrabInfo }

// KnockoutSync asks the host to resend knockout state.
type KnockoutSync struct{}

// HitCatapult reports a hit on a catapult.
type HitCatapult struct {
	CatapultID     uint32 // 4-bit catapult index
	JustKnockedOut bool   // The hit knocked the catapult out
	Vortex         bool   // The hit came from the vortex
}

// LeverMove reports the rotation of a lever.
type LeverMove struct {
	LeverID     uint32  // 3-bit lever index
	EulerAngleX float32 // Lever rotation about the X axis
}

// Physics carries a physics sync packet.
type Physics struct{ Data PhysicsSyncData }

func (OneHitKOAnimate) gameActionKey() gameActionKey { return keyOneHitKOAnimate }
func (TryGrab) gameActionKey() gameActionKey         { return keyTryGrab }
func (GrabStart) gameActionKey() gameActionKey       { return keyGrabStart }
func (GrabMove) gameActionKey() gameActionKey        { return keyGrabMove }
func (TryRelease) gameActionKey() gameActionKey      { return keyTryRelease }
func (ReleaseEnd) gameActionKey() gameActionKey      { return keyReleaseEnd }
func (CatapultRelease) gameActionKey() gameActionKey { return keyCatapultRelease }
func (GrabbableStatus) gameActionKey() gameActionKey { return keyGrabbableStatus }
func (KnockoutSync) gameActionKey() gameActionKey    { return keyKnockoutSync }
func (HitCatapult) gameActionKey() gameActionKey     { return keyHitCatapult }
func (LeverMove) gameActionKey() gameActionKey       { return keyLeverMove }
func (Physics) gameActionKey() gameActionKey         { return keyPhysics }

func (OneHitKOAnimate) encode(*bitstream.Writable)     {}
func (a TryGrab) encode(w *bitstream.Writable)         { a.Info.encode(w) }
func (a GrabStart) encode(w *bitstream.Writable)       { a.Info.encode(w) }
func (a GrabMove) encode(w *bitstream.Writable)        { a.Info.encode(w) }
func (a TryRelease) encode(w *bitstream.Writable)      { a.Info.encode(w) }
func (a ReleaseEnd) encode(w *bitstream.Writable)      { a.Info.encode(w) }
func (a GrabbableStatus) encode(w *bitstream.Writable) { a.Info.encode(w) }
func (KnockoutSync) encode(*bitstream.Writable)        {}
func (a Physics) encode(w *bitstream.Writable)         { a.Data.encode(w) }

func (a CatapultRelease) encode(w *bitstream.Writable) {
	w.AppendUInt32(a.Sling.CatapultID, catapultIDBits)
	bitstream.AppendEnum(w, a.Sling.ProjectileType)
	a.Sling.Velocity.encode(w)
}

func (a HitCatapult) encode(w *bitstream.Writable) {
	w.AppendUInt32(a.CatapultID, catapultIDBits)
	w.AppendBool(a.JustKnockedOut)
	w.AppendBool(a.Vortex)
}

func (a LeverMove) encode(w *bitstream.Writable) {
	w.AppendUInt32(a.LeverID, leverIDBits)
	w.AppendFloat(a.EulerAngleX)
}

func encodeGameAction(w *bitstream.Writable, a GameAction) {
	bitstream.AppendEnum(w, a.gameActionKey())
	a.encode(w)
}

func decodeGameAction(d *decoder) GameAction {
	raw := d.uint32(bitstream.EnumBits(uint32(gameActionKeyCount)))
	if d.err != nil {
		return nil
	}
	switch gameActionKey(raw) {
	case keyOneHitKOAnimate:
		return OneHitKOAnimate{}
	case keyTryGrab:
		return TryGrab{Info: d.grabInfo()}
	case keyGrabStart:
		return GrabStart{Info: d.grabInfo()}
	case keyGrabMove:
		return GrabMove{Info: d.grabInfo()}
	case keyTryRelease:
		return TryRelease{Info: d.grabInfo()}
	case keyReleaseEnd:
		return ReleaseEnd{Info: d.grabInfo()}
	case keyCatapultRelease:
		var s SlingData
		s.CatapultID = d.uint32(catapultIDBits)
		s.ProjectileType = readEnum[ProjectileType](d)
		s.Velocity = d.velocity()
		return CatapultRelease{Sling: s}
	case keyGrabbableStatus:
		return GrabbableStatus{Info: d.grabInfo()}
	case keyKnockoutSync:
		return KnockoutSync{}
	case keyHitCatapult:
		return HitCatapult{CatapultID: d.uint32(catapultIDBits), JustKnockedOut: d.bool(), Vortex: d.bool()}
	case keyLeverMove:
		return LeverMove{LeverID: d.uint32(leverIDBits), EulerAngleX: d.float()}
	case keyPhysics:
		return Physics{Data: d.physicsSyncData()}
	}
	d.fail(fmt.Errorf("%w: game action %d", ErrUnknownAction, raw))
	return nil
}

func gameActionName(a GameAction) string {
	switch a.(type) {
	case OneHitKOAnimate:
		return "oneHitKOAnimate"
	case TryGrab:
		return "tryGrab"
	case GrabStart:
		return "grabStart"
	case GrabMove:
		return "grabMove"
	case TryRelease:
		return "tryRelease"
	case ReleaseEnd:
		return "releaseEnd"
	case CatapultRelease:
		return "catapultRelease"
	case GrabbableStatus:
		return "grabbableStatus"
	case KnockoutSync:
		return "knockoutSync"
	case HitCatapult:
		return "hitCatapult"
	case LeverMove:
		return "leverMove"
	case Physics:
		return "physics"
	}
	return "unknown"
}
