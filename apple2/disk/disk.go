// Package disk implements DOS 3.3 flat-sector disk image support: a
// 35-track, 16-sector, 256-byte-per-sector image, and a Drive exposing the
// $C0Ex-range soft-switches a 6502 disk controller ROM drives to step
// the head and select a drive.
//
// Grounded on nes.CPUBus.read's address-range switch (jyane-jnes
// nes/cpubus.go): the same "decode an address against fixed windows"
// shape, here applied to the disk controller's slot I/O window
// instead of the NES's PPU register window. 6-and-2 GCR nibblization
// is out of scope, so Drive serves raw sector bytes
// rather than an encoded nibble stream.
package disk

import "fmt"

const (
	tracksPerDisk   = 35
	sectorsPerTrack = 16
	bytesPerSector  = 256

	// ImageSize is the expected size, in bytes, of a flat DOS-order
	// .dsk image.
	ImageSize = tracksPerDisk * sectorsPerTrack * bytesPerSector
)

// BadImageSizeError reports an image whose length doesn't match the
// fixed 35x16x256 DOS 3.3 geometry.
type BadImageSizeError struct{ Got int }

func (e *BadImageSizeError) Error() string {
	return fmt.Sprintf("disk image has %d bytes, want %d", e.Got, ImageSize)
}

// OutOfRangeError reports a track or sector address outside the
// disk's geometry.
type OutOfRangeError struct{ Track, Sector int }

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("track/sector out of range: track=%d sector=%d", e.Track, e.Sector)
}

// Image wraps a flat DOS-order .dsk buffer and serves whole sectors by
// logical track/sector address.
type Image struct {
	data [ImageSize]byte
}

// NewImage loads data as a DOS 3.3 image. data must be exactly
// ImageSize bytes.
func NewImage(data []byte) (*Image, error) {
	if len(data) != ImageSize {
		return nil, &BadImageSizeError{Got: len(data)}
	}
	img := &Image{}
	copy(img.data[:], data)
	return img, nil
}

// ReadSector returns a copy of the 256-byte sector at (track, sector).
func (img *Image) ReadSector(track, sector int) ([]byte, error) {
	off, err := sectorOffset(track, sector)
	if err != nil {
		return nil, err
	}
	out := make([]byte, bytesPerSector)
	copy(out, img.data[off:off+bytesPerSector])
	return out, nil
}

// WriteSector overwrites the 256-byte sector at (track, sector). data
// longer than one sector is truncated; shorter is zero-padded.
func (img *Image) WriteSector(track, sector int, data []byte) error {
	off, err := sectorOffset(track, sector)
	if err != nil {
		return err
	}
	dst := img.data[off : off+bytesPerSector]
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, data)
	return nil
}

func sectorOffset(track, sector int) (int, error) {
	if track < 0 || track >= tracksPerDisk || sector < 0 || sector >= sectorsPerTrack {
		return 0, &OutOfRangeError{Track: track, Sector: sector}
	}
	return (track*sectorsPerTrack + sector) * bytesPerSector, nil
}

// Drive models one Disk II drive: a seeked image, a half-track head
// position, and the motor/select latch the $C0Ex soft-switches toggle.
// Nibblization (6-and-2 GCR encoding) of sector data onto the track is
// out of scope; a drive serves logical sectors directly.
type Drive struct {
	img *Image

	halfTrack int // 0..68; track = halfTrack/2
	motorOn   bool
	selected  bool
}

// NewDrive returns a Drive with no image mounted, head parked at
// track 0.
func NewDrive() *Drive {
	return &Drive{}
}

// Mount inserts img, the same way a user would swap a floppy.
func (d *Drive) Mount(img *Image) { d.img = img }

// Eject removes the mounted image, if any.
func (d *Drive) Eject() { d.img = nil }

// Track returns the whole-track number the head currently sits over.
func (d *Drive) Track() int { return d.halfTrack / 2 }

// StepHalfTrack moves the head by one half-track in the given
// direction (positive: toward track 34; negative: toward track 0),
// clamped to the drive's travel.
func (d *Drive) StepHalfTrack(dir int) {
	switch {
	case dir > 0:
		d.halfTrack++
	case dir < 0:
		d.halfTrack--
	}
	if d.halfTrack < 0 {
		d.halfTrack = 0
	}
	if max := (tracksPerDisk - 1) * 2; d.halfTrack > max {
		d.halfTrack = max
	}
}

// ReadSector reads a sector from the mounted image at the drive's
// current track, or nil if no image is mounted.
func (d *Drive) ReadSector(sector int) []byte {
	if d.img == nil {
		return nil
	}
	data, err := d.img.ReadSector(d.Track(), sector)
	if err != nil {
		return nil
	}
	return data
}

// soft-switch offsets within a slot's $C0n0-$C0nF I/O window, per the
// Disk II controller card (phase stepper motors 0-3, motor on/off,
// drive select, Q6/Q7 latch pair used by real hardware for
// read/write/sense — modeled here only as far as head stepping and
// drive select, since nibblization is out of scope).
const (
	swPhase0Off = 0x0
	swPhase0On  = 0x1
	swPhase1Off = 0x2
	swPhase1On  = 0x3
	swPhase2Off = 0x4
	swPhase2On  = 0x5
	swPhase3Off = 0x6
	swPhase3On  = 0x7
	swMotorOff  = 0x8
	swMotorOn   = 0x9
	swDrive1    = 0xA
	swDrive2    = 0xB
)

// Controller dispatches $C0Ex-range soft-switch accesses (slot 6 by
// Apple II convention, x = low nibble of the address) to a pair of
// drives, mirroring nes.CPUBus.read's address-decode switch.
type Controller struct {
	drives    [2]*Drive
	selected  int // 0 or 1
	lastPhase int // last phase stepper energized, for direction inference
}

// NewController returns a Controller over two freshly allocated empty
// drives.
func NewController() *Controller {
	return &Controller{drives: [2]*Drive{NewDrive(), NewDrive()}}
}

// Drive returns drive 0 or 1.
func (c *Controller) Drive(n int) *Drive { return c.drives[n&1] }

// Access services a read or write at the slot's $C0n0-$C0nF window;
// offset is address&0xF. Disk II soft-switches are read-triggered
// (the data byte is ignored), matching real hardware.
func (c *Controller) Access(offset int) {
	drive := c.drives[c.selected]
	switch offset {
	case swPhase0On, swPhase1On, swPhase2On, swPhase3On:
		phase := (offset - swPhase0On) / 2
		c.stepFromPhase(drive, phase)
	case swPhase0Off, swPhase1Off, swPhase2Off, swPhase3Off:
		// de-energizing a phase carries no head motion by itself.
	case swMotorOn:
		drive.motorOn = true
	case swMotorOff:
		drive.motorOn = false
	case swDrive1:
		c.selected = 0
	case swDrive2:
		c.selected = 1
	}
}

// stepFromPhase infers step direction from the two-phase sequence a
// real stepper motor is driven with: adjacent phase, ahead of the
// last one energized, steps the head out; behind steps it in.
func (c *Controller) stepFromPhase(drive *Drive, phase int) {
	defer func() { c.lastPhase = phase }()
	diff := phase - c.lastPhase
	switch diff {
	case 1, -3:
		drive.StepHalfTrack(1)
	case -1, 3:
		drive.StepHalfTrack(-1)
	}
}
