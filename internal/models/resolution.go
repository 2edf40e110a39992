package models

import (
	"strconv"
	"strings"
)

// ResolutionSpec is one rung of the output ladder: a "WxH" size and a "<n>k" bitrate.
type ResolutionSpec struct {
	Size    string `json:"size"`
	Bitrate string `json:"bitrate"`
}

// ParseResolution parses "<int>x<int>" case-insensitively, ignoring surrounding
// whitespace. Anything else, including zero dimensions, yields (0, 0).
func ParseResolution(s string) (width, height int) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(parts) != 2 {
		return 0, 0
	}
	w, okW := parseDigits(parts[0])
	h, okH := parseDigits(parts[1])
	if !okW || !okH || w == 0 || h == 0 {
		return 0, 0
	}
	return w, h
}

func parseDigits(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Dimensions returns the parsed width and height, (0, 0) when malformed.
func (r ResolutionSpec) Dimensions() (int, int) {
	return ParseResolution(r.Size)
}

// Height returns the parsed height, 0 when malformed.
func (r ResolutionSpec) Height() int {
	_, h := ParseResolution(r.Size)
	return h
}

// BitrateKbps returns the numeric part of the bitrate, 0 when malformed.
func (r ResolutionSpec) BitrateKbps() int {
	s := strings.ToLower(strings.TrimSpace(r.Bitrate))
	n, ok := parseDigits(strings.TrimSuffix(s, "k"))
	if !ok || !strings.HasSuffix(s, "k") {
		return 0
	}
	return n
}

// Bandwidth is the declared variant bandwidth in bits per second.
func (r ResolutionSpec) Bandwidth() int {
	return r.BitrateKbps() * 1000
}

// BufSize is the encoder rate-control buffer, twice the bitrate.
func (r ResolutionSpec) BufSize() string {
	return strconv.Itoa(r.BitrateKbps()*2) + "k"
}

// Validate checks the size and bitrate are well formed.
func (r ResolutionSpec) Validate() error {
	if w, _ := r.Dimensions(); w == 0 {
		return ErrValidation{Field: "size", Message: ErrInvalidResolution.Error() + ", got " + strconv.Quote(r.Size)}
	}
	if r.BitrateKbps() == 0 {
		return ErrValidation{Field: "bitrate", Message: ErrInvalidBitrate.Error() + ", got " + strconv.Quote(r.Bitrate)}
	}
	return nil
}

// SupportedResolutions keeps the ladder entries whose height does not exceed the
// source height, preserving ladder order.
func SupportedResolutions(ladder []ResolutionSpec, sourceHeight int) []ResolutionSpec {
	if sourceHeight <= 0 {
		return nil
	}
	out := make([]ResolutionSpec, 0, len(ladder))
	for _, r := range ladder {
		if r.Height() <= sourceHeight {
			out = append(out, r)
		}
	}
	return out
}
