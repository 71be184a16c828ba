package parser

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tcpUnit = `{"_index":"packets-2024-05-01","_type":"doc","_source":{"layers":{` +
	`"frame":{"frame.number":"7","frame.len":"74","frame.protocols":"eth:ethertype:ip:tcp"},` +
	`"eth":{"eth.src":"aa:bb:cc:dd:ee:ff"},` +
	`"ip":{"ip.src":"10.0.0.1","ip.dst":"10.0.0.2"},` +
	`"tcp":{"tcp.srcport":"51514","tcp.dstport":"443","tcp.flags":"0x0002"}}}}`

func TestNormalize_TCP(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec, err := Normalize([]byte(tcpUnit), at)
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, 7, rec.Number)
	assert.Equal(t, at, rec.Timestamp)
	assert.Equal(t, "10.0.0.1", rec.Source)
	assert.Equal(t, "10.0.0.2", rec.Destination)
	assert.Equal(t, "TCP", rec.Protocol)
	assert.Equal(t, 74, rec.Length)
	assert.Equal(t, "51514 → 443 [TCP] Flags: 0x0002", rec.Info)
	assert.JSONEq(t, tcpUnit, string(rec.Raw))

	require.Contains(t, rec.Layers, "TCP")
	assert.Equal(t, "tcp", rec.Layers["TCP"].Name)
	assert.JSONEq(t, `{"tcp.srcport":"51514","tcp.dstport":"443","tcp.flags":"0x0002"}`,
		string(rec.Layers["TCP"].Fields))
	assert.Len(t, rec.Layers, 4)
}

func TestNormalize_UniqueIDs(t *testing.T) {
	a, err := Normalize([]byte(tcpUnit), time.Now())
	require.NoError(t, err)
	b, err := Normalize([]byte(tcpUnit), time.Now())
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestNormalize_Addresses(t *testing.T) {
	tests := []struct {
		name     string
		layers   string
		src, dst string
	}{
		{
			name:   "ipv4 preferred",
			layers: `"ip":{"ip.src":"1.1.1.1","ip.dst":"2.2.2.2"},"ipv6":{"ipv6.src":"::1","ipv6.dst":"::2"}`,
			src:    "1.1.1.1", dst: "2.2.2.2",
		},
		{
			name:   "ipv6 only",
			layers: `"ipv6":{"ipv6.src":"fe80::1","ipv6.dst":"ff02::fb"}`,
			src:    "fe80::1", dst: "ff02::fb",
		},
		{
			name:   "no ip layers",
			layers: `"eth":{"eth.src":"aa:bb:cc:dd:ee:ff"}`,
			src:    Unknown, dst: Unknown,
		},
		{
			name:   "empty ipv4 falls back",
			layers: `"ip":{"ip.src":""},"ipv6":{"ipv6.src":"::5"}`,
			src:    "::5", dst: Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Normalize([]byte(`{"_source":{"layers":{`+tt.layers+`}}}`), time.Now())
			require.NoError(t, err)
			assert.Equal(t, tt.src, rec.Source)
			assert.Equal(t, tt.dst, rec.Destination)
		})
	}
}

func TestNormalize_Summary(t *testing.T) {
	tests := []struct {
		name   string
		layers string
		want   string
	}{
		{
			name:   "tcp without flags",
			layers: `"tcp":{"tcp.srcport":"1","tcp.dstport":"2"}`,
			want:   "1 → 2 [TCP] Flags: 0",
		},
		{
			name:   "udp",
			layers: `"udp":{"udp.srcport":"5353","udp.dstport":"5353"}`,
			want:   "5353 → 5353 [UDP]",
		},
		{
			name:   "icmp",
			layers: `"icmp":{"icmp.type":"8","icmp.code":"0"}`,
			want:   "ICMP 8 (0)",
		},
		{
			name:   "tcp wins over icmp",
			layers: `"icmp":{"icmp.type":"3","icmp.code":"1"},"tcp":{"tcp.srcport":"80","tcp.dstport":"81","tcp.flags":"0x0010"}`,
			want:   "80 → 81 [TCP] Flags: 0x0010",
		},
		{
			name:   "udp wins over icmp",
			layers: `"icmp":{},"udp":{"udp.srcport":"53","udp.dstport":"1024"}`,
			want:   "53 → 1024 [UDP]",
		},
		{
			name:   "missing ports",
			layers: `"udp":{}`,
			want:   "? → ? [UDP]",
		},
		{
			name:   "nothing known",
			layers: `"arp":{"arp.opcode":"1"}`,
			want:   "Unknown protocol",
		},
		{
			name:   "repeated layer uses first occurrence",
			layers: `"udp":[{"udp.srcport":"4789","udp.dstport":"4789"},{"udp.srcport":"1","udp.dstport":"2"}]`,
			want:   "4789 → 4789 [UDP]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Normalize([]byte(`{"_source":{"layers":{`+tt.layers+`}}}`), time.Now())
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.Info)
		})
	}
}

// Swapping the TCP layer for a UDP one switches the summary form.
func TestNormalize_TCPToUDP(t *testing.T) {
	var unit map[string]any
	require.NoError(t, json.Unmarshal([]byte(tcpUnit), &unit))
	layers := unit["_source"].(map[string]any)["layers"].(map[string]any)
	delete(layers, "tcp")
	layers["udp"] = map[string]any{"udp.srcport": "51514", "udp.dstport": "443"}
	b, err := json.Marshal(unit)
	require.NoError(t, err)

	rec, err := Normalize(b, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "51514 → 443 [UDP]", rec.Info)
}

func TestNormalize_Protocol(t *testing.T) {
	tests := []struct {
		frame string
		want  string
	}{
		{`{"frame.protocols":"eth:ethertype:ipv6:udp:dns"}`, "DNS"},
		{`{"frame.protocols":"sll:arp"}`, "ARP"},
		{`{"frame.protocols":"eth:"}`, Unknown},
		{`{"frame.protocols":""}`, Unknown},
		{`{}`, Unknown},
	}
	for _, tt := range tests {
		rec, err := Normalize([]byte(`{"_source":{"layers":{"frame":`+tt.frame+`}}}`), time.Now())
		require.NoError(t, err)
		assert.Equal(t, tt.want, rec.Protocol, tt.frame)
	}
}

func TestNormalize_Defaults(t *testing.T) {
	rec, err := Normalize([]byte(`{"_source":{"layers":{}}}`), time.Now())
	require.NoError(t, err)
	assert.Zero(t, rec.Number)
	assert.Zero(t, rec.Length)
	assert.Equal(t, Unknown, rec.Protocol)
	assert.Equal(t, "Unknown protocol", rec.Info)
	assert.Empty(t, rec.Layers)

	rec, err = Normalize([]byte(`{"_index":12,"_source":{"layers":{"frame":{"frame.len":"abc"}}}}`), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 12, rec.Number)
	assert.Zero(t, rec.Length)

	rec, err = Normalize([]byte(`{"foo":1}`), time.Now())
	require.NoError(t, err)
	assert.Empty(t, rec.Layers)
}

func TestNormalize_NumericFields(t *testing.T) {
	unit := `{"_source":{"layers":{` +
		`"frame":{"frame.number":1234567,"frame.len":1514},` +
		`"ip":{"ip.src":"10.0.0.1","ip.dst":"10.0.0.2"},` +
		`"udp":{"udp.srcport":5353,"udp.dstport":53}}}}`
	rec, err := Normalize([]byte(unit), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1234567, rec.Number)
	assert.Equal(t, 1514, rec.Length)
	assert.Equal(t, "5353 → 53 [UDP]", rec.Info)
}

func TestNormalize_EK(t *testing.T) {
	_, err := Normalize([]byte(`{"index":{"_index":"packets-2024-05-01","_type":"doc"}}`), time.Now())
	assert.ErrorIs(t, err, ErrNotPacket)

	unit := `{"timestamp":"1714564800123","layers":{` +
		`"frame":{"frame_frame_number":"9","frame_frame_len":"74","frame_frame_protocols":"eth:ethertype:ip:tcp"},` +
		`"ip":{"ip_ip_src":"10.0.0.1","ip_ip_dst":"10.0.0.2"},` +
		`"tcp":{"tcp_tcp_srcport":"51514","tcp_tcp_dstport":"443","tcp_tcp_flags":"0x0012"}}}`
	rec, err := Normalize([]byte(unit), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 9, rec.Number)
	assert.Equal(t, 74, rec.Length)
	assert.Equal(t, "10.0.0.1", rec.Source)
	assert.Equal(t, "10.0.0.2", rec.Destination)
	assert.Equal(t, "TCP", rec.Protocol)
	assert.Equal(t, "51514 → 443 [TCP] Flags: 0x0012", rec.Info)
	assert.Equal(t, "0x0012", TCPFlags(rec))
}

func TestNormalize_DecodeError(t *testing.T) {
	for _, unit := range []string{
		`{"_source":{"layers":`,
		`[1,2,3]`,
		`not json`,
		`{"_source":{"layers":"eth"}}`,
		``,
	} {
		_, err := Normalize([]byte(unit), time.Now())
		var de *DecodeError
		require.True(t, errors.As(err, &de), "unit %q", unit)
		assert.Error(t, de.Err)
	}
}

func TestPorts(t *testing.T) {
	rec, err := Normalize([]byte(tcpUnit), time.Now())
	require.NoError(t, err)
	src, dst, ok := Ports(rec)
	require.True(t, ok)
	assert.Equal(t, uint16(51514), src)
	assert.Equal(t, uint16(443), dst)

	rec, err = Normalize([]byte(`{"_source":{"layers":{"icmp":{"icmp.type":"0"}}}}`), time.Now())
	require.NoError(t, err)
	_, _, ok = Ports(rec)
	assert.False(t, ok)
}
