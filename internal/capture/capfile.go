package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// FileSummary describes a capture file written by the tool.
type FileSummary struct {
	Path        string
	Format      string // "pcapng" or "pcap"
	LinkType    layers.LinkType
	Packets     int
	Bytes       int64
	LayerCounts map[string]int
	First       time.Time
	Last        time.Time
}

// packetReader is what pcapgo's readers have in common.
type packetReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// CaptureFile reads a capture file in pcapng or classic pcap format.
type CaptureFile struct {
	f      *os.File
	r      packetReader
	format string
}

// OpenCaptureFile opens path, trying pcapng first and falling back to pcap.
func OpenCaptureFile(path string) (*CaptureFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture file %q: %w", path, err)
	}
	if ng, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions); err == nil {
		return &CaptureFile{f: f, r: ng, format: "pcapng"}, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("rewind capture file %q: %w", path, err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read capture file %q: %w", path, err)
	}
	return &CaptureFile{f: f, r: r, format: "pcap"}, nil
}

// Packets returns a packet source decoding the file's link type.
func (c *CaptureFile) Packets() *gopacket.PacketSource {
	src := gopacket.NewPacketSource(c.r, c.r.LinkType())
	src.Lazy = true
	src.NoCopy = true
	return src
}

// LinkType returns the link layer type of the file.
func (c *CaptureFile) LinkType() layers.LinkType {
	return c.r.LinkType()
}

// Close releases the file.
func (c *CaptureFile) Close() error {
	return c.f.Close()
}

// Summarize reads the whole capture file and counts packets, bytes and
// decoded layer types. A file still being written is read up to its last
// complete packet.
func Summarize(path string) (FileSummary, error) {
	cf, err := OpenCaptureFile(path)
	if err != nil {
		return FileSummary{}, err
	}
	defer cf.Close()

	sum := FileSummary{
		Path:        path,
		Format:      cf.format,
		LinkType:    cf.LinkType(),
		LayerCounts: make(map[string]int),
	}
	src := cf.Packets()
	for {
		pkt, err := src.NextPacket()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return sum, fmt.Errorf("read capture file %q: %w", path, err)
		}
		md := pkt.Metadata()
		sum.Packets++
		sum.Bytes += int64(md.CaptureLength)
		if sum.First.IsZero() {
			sum.First = md.Timestamp
		}
		sum.Last = md.Timestamp
		for _, l := range pkt.Layers() {
			sum.LayerCounts[l.LayerType().String()]++
		}
	}
	return sum, nil
}
