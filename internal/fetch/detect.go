package fetch

import (
	"bytes"

	"muxd/internal/queue"
)

// Container identifies a media container family from its byte signature.
type Container string

const (
	ContainerMP4      Container = "mp4"
	ContainerMatroska Container = "matroska"
	ContainerMP3      Container = "mp3"
	ContainerWAV      Container = "wav"
	ContainerFLAC     Container = "flac"
	ContainerOgg      Container = "ogg"
	ContainerADTS     Container = "adts"
	ContainerUnknown  Container = "unknown"
)

// headerSniffLen is how many leading bytes DetectContainer needs.
const headerSniffLen = 16

var (
	sigEBML = []byte{0x1A, 0x45, 0xDF, 0xA3}
	sigID3  = []byte("ID3")
	sigFLAC = []byte("fLaC")
	sigOggS = []byte("OggS")
	sigRIFF = []byte("RIFF")
	sigWAVE = []byte("WAVE")
	sigFtyp = []byte("ftyp")
)

// DetectContainer sniffs the container family from the leading bytes of a
// media file. It never reads beyond what it is given.
func DetectContainer(header []byte) Container {
	switch {
	case len(header) >= 12 && bytes.Equal(header[4:8], sigFtyp):
		return ContainerMP4
	case bytes.HasPrefix(header, sigEBML):
		return ContainerMatroska
	case bytes.HasPrefix(header, sigID3):
		return ContainerMP3
	case len(header) >= 12 && bytes.HasPrefix(header, sigRIFF) && bytes.Equal(header[8:12], sigWAVE):
		return ContainerWAV
	case bytes.HasPrefix(header, sigFLAC):
		return ContainerFLAC
	case bytes.HasPrefix(header, sigOggS):
		return ContainerOgg
	case len(header) >= 2 && header[0] == 0xFF && header[1]&0xF6 == 0xF0:
		return ContainerADTS
	case len(header) >= 2 && header[0] == 0xFF && header[1]&0xE0 == 0xE0:
		// Bare MPEG audio frame sync without an ID3 tag.
		return ContainerMP3
	}
	return ContainerUnknown
}

var videoContainers = map[Container]struct{}{
	ContainerMP4:      {},
	ContainerMatroska: {},
}

var audioContainers = map[Container]struct{}{
	ContainerMP4:      {}, // m4a shares the ISO BMFF signature
	ContainerMatroska: {},
	ContainerMP3:      {},
	ContainerWAV:      {},
	ContainerFLAC:     {},
	ContainerOgg:      {},
	ContainerADTS:     {},
}

// AcceptableForRole reports whether a detected container is usable for the
// declared input role.
func AcceptableForRole(container Container, role queue.InputRole) bool {
	switch role {
	case queue.RoleVideo:
		_, ok := videoContainers[container]
		return ok
	case queue.RoleAudio:
		_, ok := audioContainers[container]
		return ok
	}
	return false
}
