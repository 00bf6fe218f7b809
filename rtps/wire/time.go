package wire

import (
	"fmt"
	"time"
)

// Time is an RTPS timestamp: seconds since the epoch plus 2^-32 fractions.
type Time struct {
	Seconds  uint32
	Fraction uint32
}

var (
	TimeZero     = Time{}
	TimeInvalid  = Time{Seconds: 0xffffffff, Fraction: 0xffffffff}
	TimeInfinite = Time{Seconds: 0xffffffff, Fraction: 0xfffffffe}
)

func NewTime(t time.Time) Time {
	ns := t.UnixNano()
	sec := ns / int64(time.Second)
	rem := ns % int64(time.Second)
	return Time{
		Seconds:  uint32(sec),
		Fraction: uint32((uint64(rem) << 32) / uint64(time.Second)),
	}
}

func (t Time) Time() time.Time {
	ns := (uint64(t.Fraction) * uint64(time.Second)) >> 32
	return time.Unix(int64(t.Seconds), int64(ns))
}

func (t Time) encode(w *writer) {
	w.u32(t.Seconds)
	w.u32(t.Fraction)
}

func (t *Time) decode(r *reader) {
	t.Seconds = r.u32()
	t.Fraction = r.u32()
}

// Duration is an RTPS duration with 2^-32 second fractions.
type Duration struct {
	Seconds  int32
	Fraction uint32
}

var (
	DurationZero     = Duration{}
	DurationInfinite = Duration{Seconds: 0x7fffffff, Fraction: 0xffffffff}
)

func NewDuration(d time.Duration) Duration {
	sec := d / time.Second
	rem := d % time.Second
	return Duration{
		Seconds:  int32(sec),
		Fraction: uint32((uint64(rem) << 32) / uint64(time.Second)),
	}
}

func (d Duration) Duration() time.Duration {
	if d == DurationInfinite {
		return time.Duration(1<<63 - 1)
	}
	ns := (uint64(d.Fraction) * uint64(time.Second)) >> 32
	return time.Duration(d.Seconds)*time.Second + time.Duration(ns)
}

func (d Duration) String() string {
	if d == DurationInfinite {
		return "infinite"
	}
	return d.Duration().String()
}

func (d Duration) encode(w *writer) {
	w.i32(d.Seconds)
	w.u32(d.Fraction)
}

func (d *Duration) decode(r *reader) {
	d.Seconds = r.i32()
	d.Fraction = r.u32()
}

// ProtocolVersion is the major.minor RTPS version.
type ProtocolVersion struct {
	Major uint8
	Minor uint8
}

var ProtocolVersion_2_3 = ProtocolVersion{Major: 2, Minor: 3}

func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// VendorId identifies the implementation that produced a message.
type VendorId [2]byte

var (
	VendorIdUnknown  = VendorId{0x00, 0x00}
	VendorIdRtpstalk = VendorId{0xca, 0xfe}
)

func (v VendorId) String() string {
	return fmt.Sprintf("%02x%02x", v[0], v[1])
}
