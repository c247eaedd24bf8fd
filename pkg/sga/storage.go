package sga

import "fmt"

// StorageType is the per-file compression classification recorded in a FileDef.
type StorageType uint8

const (
	StorageStore StorageType = iota
	StorageBufferCompress
	StorageStreamCompress
)

// storageToCode and codeToStorage form the on-disk bijection.
var (
	storageToCode = map[StorageType]uint32{
		StorageStore:          0x00,
		StorageBufferCompress: 0x10,
		StorageStreamCompress: 0x20,
	}
	codeToStorage = map[uint32]StorageType{
		0x00: StorageStore,
		0x10: StorageBufferCompress,
		0x20: StorageStreamCompress,
	}
)

// StorageTypes lists every known storage type.
func StorageTypes() []StorageType {
	return []StorageType{StorageStore, StorageBufferCompress, StorageStreamCompress}
}

// StorageTypeFromCode maps an on-disk code to a StorageType. Unknown codes are
// an error rather than a default.
func StorageTypeFromCode(code uint32) (StorageType, error) {
	st, ok := codeToStorage[code]
	if !ok {
		return 0, &UnknownStorageTypeError{Code: code}
	}
	return st, nil
}

// Code returns the on-disk code for s.
func (s StorageType) Code() uint32 {
	return storageToCode[s]
}

// Compressed reports whether payloads of this type are zlib streams.
func (s StorageType) Compressed() bool {
	return s == StorageBufferCompress || s == StorageStreamCompress
}

// Valid reports whether s is a known storage type.
func (s StorageType) Valid() bool {
	_, ok := storageToCode[s]
	return ok
}

func (s StorageType) String() string {
	switch s {
	case StorageStore:
		return "STORE"
	case StorageBufferCompress:
		return "BUFFER_COMPRESS"
	case StorageStreamCompress:
		return "STREAM_COMPRESS"
	}
	return "UNKNOWN"
}

// ParseStorageType is the inverse of StorageType.String.
func ParseStorageType(s string) (StorageType, bool) {
	for _, st := range StorageTypes() {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

func (s StorageType) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *StorageType) UnmarshalText(text []byte) error {
	st, ok := ParseStorageType(string(text))
	if !ok {
		return fmt.Errorf("unknown storage type %q", text)
	}
	*s = st
	return nil
}
