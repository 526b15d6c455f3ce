package node

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// Validation limits.
const (
	maxNameLength    = 100
	maxSegmentLength = 64
	maxLocationDepth = 16
	segmentPattern   = `^[A-Za-z0-9][A-Za-z0-9 _.-]*$`
)

var segmentRegex = regexp.MustCompile(segmentPattern)

// NormalizeLocation validates a location path and returns its canonical
// form: a leading slash, no trailing slash, no empty segments.
//
// The empty string and "/" both mean "no location".
//
// Example:
//
//	NormalizeLocation("/WuKong/Room1/")  // "/WuKong/Room1", nil
//	NormalizeLocation("WuKong")          // error: must start with "/"
func NormalizeLocation(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "/" {
		return "", nil
	}
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("%w: %q must start with /", ErrInvalidLocation, path)
	}

	segments := strings.Split(strings.TrimSuffix(path[1:], "/"), "/")
	if len(segments) > maxLocationDepth {
		return "", fmt.Errorf("%w: deeper than %d levels", ErrInvalidLocation, maxLocationDepth)
	}
	for _, s := range segments {
		if s == "" {
			return "", fmt.Errorf("%w: %q has an empty segment", ErrInvalidLocation, path)
		}
		if len(s) > maxSegmentLength {
			return "", fmt.Errorf("%w: segment exceeds %d characters", ErrInvalidLocation, maxSegmentLength)
		}
		if !segmentRegex.MatchString(s) {
			return "", fmt.Errorf("%w: segment %q has invalid characters", ErrInvalidLocation, s)
		}
	}
	return "/" + strings.Join(segments, "/"), nil
}

// ValidateName checks a node name reported by a device.
func ValidateName(name string) error {
	if len(name) > maxNameLength {
		return fmt.Errorf("name exceeds %d characters", maxNameLength)
	}
	return nil
}

// SplitAddress parses a "host:port" transport address.
func SplitAddress(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("%w: port %q", ErrInvalidAddress, portStr)
	}
	if host == "" {
		return "", 0, fmt.Errorf("%w: empty host", ErrInvalidAddress)
	}
	return host, port, nil
}
