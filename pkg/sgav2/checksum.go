package sgav2

import (
	"crypto/md5"
	"hash"
	"hash/crc32"
)

// Digest salts prepended before hashing the file and header regions.
var (
	FileMD5Salt   = []byte("E01519D6-2DB7-4640-AF54-0A23319C56C3")
	HeaderMD5Salt = []byte("DFC9AF62-FC1B-4180-BC27-11CCE87D3EFF")
)

func newSaltedMD5(salt []byte) hash.Hash {
	h := md5.New()
	h.Write(salt)
	return h
}

// SaltedMD5 returns md5(salt || data...).
func SaltedMD5(salt []byte, data ...[]byte) [16]byte {
	h := newSaltedMD5(salt)
	for _, d := range data {
		h.Write(d)
	}
	var sum [16]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// CRC32 is the per-file checksum stored in file headers.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

func crcBytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
