package action

import "github.com/linchenxuan/slingshot/bitstream"

// decoder wraps a Readable and keeps the first read error, so field sequences can be
// read straight through and checked once.
type decoder struct {
	r   *bitstream.Readable
	err error
}

func (d *decoder) bool() bool {
	if d.err != nil {
		return false
	}
	v, err := d.r.ReadBool()
	d.err = err
	return v
}

func (d *decoder) uint32(bits int) uint32 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.ReadUInt32(bits)
	d.err = err
	return v
}

func (d *decoder) float() float32 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.ReadFloat()
	d.err = err
	return v
}

func (d *decoder) data() []byte {
	if d.err != nil {
		return nil
	}
	v, err := d.r.ReadData()
	d.err = err
	return v
}

// compressed reads a value quantised by c.
func (d *decoder) compressed(c bitstream.FloatCompressor) float32 {
	if d.err != nil {
		return 0
	}
	v, err := c.Read(d.r)
	d.err = err
	return v
}

// fail records err unless an earlier error is already recorded.
func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

// readEnum reads an enum sized from its case count. Range checks are left to the caller.
func readEnum[E bitstream.Enum](d *decoder) E {
	var zero E
	if d.err != nil {
		return zero
	}
	v, err := bitstream.ReadEnum[E](d.r)
	d.err = err
	return v
}
