package gcf

import "errors"

var (
	ErrInvalidMagic       = errors.New("invalid GCF magic")
	ErrUnsupportedMajor   = errors.New("unsupported GCF major version")
	ErrUnsupportedSection = errors.New("unsupported GCF section version")
	ErrCorruptFile        = errors.New("corrupt GCF file")
)
