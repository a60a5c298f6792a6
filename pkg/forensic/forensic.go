// Package forensic defines the BREV-64 forensic wire contract: the
// ForensicRecord, SystemSnapshot, and AttackGraph envelopes external
// forensic tooling produces and consumes. Only the wire contract lives in
// the core — capture, analysis, and reporting are external collaborators.
// All three envelopes round-trip exactly through the canonical codec.
//
// The canonical encoding forbids floats, so ratio-valued fields the
// external tooling measures (CPU usage, load averages, node confidence)
// are carried as fixed-point thousandths (permille/milli) on the wire.
package forensic

import (
	"github.com/coreledger/validator-core/pkg/codec"
	vcrypto "github.com/coreledger/validator-core/pkg/crypto"
	"github.com/coreledger/validator-core/pkg/errs"
)

// EvidenceEntry is one piece of captured evidence inside a ForensicRecord.
// Hash covers Data under the entry's evidence-type domain tag, so the same
// bytes captured as, say, a memory dump and a network capture hash
// differently.
type EvidenceEntry struct {
	Type        EvidenceType
	Data        []byte
	Hash        [32]byte
	Size        uint64
	Description string
}

// NewEvidenceEntry builds an entry over data, computing its tagged hash
// and size.
func NewEvidenceEntry(t EvidenceType, data []byte, description string) EvidenceEntry {
	return EvidenceEntry{
		Type:        t,
		Data:        data,
		Hash:        vcrypto.Sum(vcrypto.Tag(t), data),
		Size:        uint64(len(data)),
		Description: description,
	}
}

// VerifyIntegrity recomputes the tagged hash over Data and compares it to
// the stored Hash.
func (e *EvidenceEntry) VerifyIntegrity() bool {
	return vcrypto.Sum(vcrypto.Tag(e.Type), e.Data) == e.Hash && uint64(len(e.Data)) == e.Size
}

func (e *EvidenceEntry) encode(enc *codec.Encoder) {
	enc.PutUint8(uint8(e.Type))
	enc.PutBytes(e.Data)
	enc.PutFixedBytes(e.Hash[:])
	enc.PutUint64(e.Size)
	enc.PutString(e.Description)
}

func (e *EvidenceEntry) decode(d *codec.Decoder) error {
	t, ok := EvidenceTypeFromByte(d.Uint8())
	if !ok && d.Err() == nil {
		return errs.New(errs.KindEncoding, "forensic.EvidenceEntry", "undefined evidence type code")
	}
	e.Type = t
	e.Data = d.Bytes()
	copy(e.Hash[:], d.FixedBytes(32))
	e.Size = d.Uint64()
	e.Description = d.String()
	return nil
}

// ForensicRecord is the BREV-64 envelope recording one detected attack.
// ProcessID, ThreadID, and MemoryAddress are zero when not applicable.
type ForensicRecord struct {
	RecordID      [16]byte
	Reason        AttackReason
	TimestampNS   uint64
	VMID          string
	ProcessID     uint32
	ThreadID      uint32
	MemoryAddress uint64
	Severity      uint8
	Evidence      []EvidenceEntry
	Vector        string
	Mitigation    string
	Attributes    map[string]string
}

// EncodeCanonical implements codec.Encodable.
func (r *ForensicRecord) EncodeCanonical(e *codec.Encoder) {
	e.PutFixedBytes(r.RecordID[:])
	e.PutUint8(uint8(r.Reason))
	e.PutUint64(r.TimestampNS)
	e.PutString(r.VMID)
	e.PutUint32(r.ProcessID)
	e.PutUint32(r.ThreadID)
	e.PutUint64(r.MemoryAddress)
	e.PutUint8(r.Severity)
	e.PutUint32(uint32(len(r.Evidence)))
	for i := range r.Evidence {
		r.Evidence[i].encode(e)
	}
	e.PutString(r.Vector)
	e.PutString(r.Mitigation)
	e.PutStringMap(r.Attributes)
}

// DecodeCanonical implements codec.Decodable.
func (r *ForensicRecord) DecodeCanonical(d *codec.Decoder) error {
	copy(r.RecordID[:], d.FixedBytes(16))
	reason, ok := ReasonFromByte(d.Uint8())
	if !ok && d.Err() == nil {
		return errs.New(errs.KindEncoding, "forensic.ForensicRecord", "undefined attack reason code")
	}
	r.Reason = reason
	r.TimestampNS = d.Uint64()
	r.VMID = d.String()
	r.ProcessID = d.Uint32()
	r.ThreadID = d.Uint32()
	r.MemoryAddress = d.Uint64()
	r.Severity = d.Uint8()
	n := d.Uint32()
	if d.Err() != nil {
		return nil
	}
	r.Evidence = make([]EvidenceEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		var ev EvidenceEntry
		if err := ev.decode(d); err != nil {
			return err
		}
		r.Evidence = append(r.Evidence, ev)
	}
	r.Vector = d.String()
	r.Mitigation = d.String()
	r.Attributes = d.StringMap()
	return nil
}

// ContentHash hashes the record's canonical encoding under its own reason
// code, which serves as the BREV-64 domain tag.
func (r *ForensicRecord) ContentHash() [32]byte {
	enc := codec.Encoder{}
	r.EncodeCanonical(&enc)
	return vcrypto.Sum(vcrypto.Tag(r.Reason), enc.MustBytes())
}

// VMState is the coarse VM health sample inside a SystemSnapshot.
type VMState struct {
	VMID          string
	CPUPermille   uint32 // CPU usage in thousandths
	MemoryUsage   uint64
	DiskUsage     uint64
	NetworkRX     uint64
	NetworkTX     uint64
	UptimeSeconds uint64
}

func (v *VMState) encode(e *codec.Encoder) {
	e.PutString(v.VMID)
	e.PutUint32(v.CPUPermille)
	e.PutUint64(v.MemoryUsage)
	e.PutUint64(v.DiskUsage)
	e.PutUint64(v.NetworkRX)
	e.PutUint64(v.NetworkTX)
	e.PutUint64(v.UptimeSeconds)
}

func (v *VMState) decode(d *codec.Decoder) {
	v.VMID = d.String()
	v.CPUPermille = d.Uint32()
	v.MemoryUsage = d.Uint64()
	v.DiskUsage = d.Uint64()
	v.NetworkRX = d.Uint64()
	v.NetworkTX = d.Uint64()
	v.UptimeSeconds = d.Uint64()
}

// ProcessInfo is one running process at snapshot time.
type ProcessInfo struct {
	PID         uint32
	PPID        uint32
	Name        string
	CommandLine string
	CPUPermille uint32
	MemoryBytes uint64
	StartTime   uint64
}

func (p *ProcessInfo) encode(e *codec.Encoder) {
	e.PutUint32(p.PID)
	e.PutUint32(p.PPID)
	e.PutString(p.Name)
	e.PutString(p.CommandLine)
	e.PutUint32(p.CPUPermille)
	e.PutUint64(p.MemoryBytes)
	e.PutUint64(p.StartTime)
}

func (p *ProcessInfo) decode(d *codec.Decoder) {
	p.PID = d.Uint32()
	p.PPID = d.Uint32()
	p.Name = d.String()
	p.CommandLine = d.String()
	p.CPUPermille = d.Uint32()
	p.MemoryBytes = d.Uint64()
	p.StartTime = d.Uint64()
}

// NetworkConnection is one open connection at snapshot time. PID is zero
// when the owning process is unknown.
type NetworkConnection struct {
	LocalAddr  string
	LocalPort  uint16
	RemoteAddr string
	RemotePort uint16
	Protocol   string
	State      string
	PID        uint32
}

func (c *NetworkConnection) encode(e *codec.Encoder) {
	e.PutString(c.LocalAddr)
	e.PutUint16(c.LocalPort)
	e.PutString(c.RemoteAddr)
	e.PutUint16(c.RemotePort)
	e.PutString(c.Protocol)
	e.PutString(c.State)
	e.PutUint32(c.PID)
}

func (c *NetworkConnection) decode(d *codec.Decoder) {
	c.LocalAddr = d.String()
	c.LocalPort = d.Uint16()
	c.RemoteAddr = d.String()
	c.RemotePort = d.Uint16()
	c.Protocol = d.String()
	c.State = d.String()
	c.PID = d.Uint32()
}

// FileSystemChange records one observed filesystem mutation. ChangeType is
// one of "created", "modified", "deleted". Hash is zero when the content
// was not captured (e.g. deletions).
type FileSystemChange struct {
	Path        string
	ChangeType  string
	Timestamp   uint64
	Size        uint64
	Permissions string
	Hash        [32]byte
}

func (f *FileSystemChange) encode(e *codec.Encoder) {
	e.PutString(f.Path)
	e.PutEnum(f.ChangeType)
	e.PutUint64(f.Timestamp)
	e.PutUint64(f.Size)
	e.PutString(f.Permissions)
	e.PutFixedBytes(f.Hash[:])
}

func (f *FileSystemChange) decode(d *codec.Decoder) {
	f.Path = d.String()
	f.ChangeType = d.Enum()
	f.Timestamp = d.Uint64()
	f.Size = d.Uint64()
	f.Permissions = d.String()
	copy(f.Hash[:], d.FixedBytes(32))
}

// MemoryRegion is one mapped region at snapshot time.
type MemoryRegion struct {
	StartAddr   uint64
	EndAddr     uint64
	Permissions string
	Mapping     string
	Size        uint64
}

func (m *MemoryRegion) encode(e *codec.Encoder) {
	e.PutUint64(m.StartAddr)
	e.PutUint64(m.EndAddr)
	e.PutString(m.Permissions)
	e.PutString(m.Mapping)
	e.PutUint64(m.Size)
}

func (m *MemoryRegion) decode(d *codec.Decoder) {
	m.StartAddr = d.Uint64()
	m.EndAddr = d.Uint64()
	m.Permissions = d.String()
	m.Mapping = d.String()
	m.Size = d.Uint64()
}

// SystemMetrics is the host-level resource summary at snapshot time.
type SystemMetrics struct {
	CPUCores          uint32
	TotalMemory       uint64
	AvailableMemory   uint64
	TotalDisk         uint64
	AvailableDisk     uint64
	LoadAvgMilli      [3]uint32 // 1/5/15-minute load averages in thousandths
	OpenFiles         uint32
	NetworkInterfaces []string
}

func (m *SystemMetrics) encode(e *codec.Encoder) {
	e.PutUint32(m.CPUCores)
	e.PutUint64(m.TotalMemory)
	e.PutUint64(m.AvailableMemory)
	e.PutUint64(m.TotalDisk)
	e.PutUint64(m.AvailableDisk)
	for _, l := range m.LoadAvgMilli {
		e.PutUint32(l)
	}
	e.PutUint32(m.OpenFiles)
	e.PutStringSlice(m.NetworkInterfaces)
}

func (m *SystemMetrics) decode(d *codec.Decoder) {
	m.CPUCores = d.Uint32()
	m.TotalMemory = d.Uint64()
	m.AvailableMemory = d.Uint64()
	m.TotalDisk = d.Uint64()
	m.AvailableDisk = d.Uint64()
	for i := range m.LoadAvgMilli {
		m.LoadAvgMilli[i] = d.Uint32()
	}
	m.OpenFiles = d.Uint32()
	m.NetworkInterfaces = d.StringSlice()
}

// SystemSnapshot is the full-system capture taken when an attack is
// detected, for after-the-fact reconstruction.
type SystemSnapshot struct {
	SnapshotID         [16]byte
	TimestampNS        uint64
	VMState            VMState
	Processes          []ProcessInfo
	NetworkConnections []NetworkConnection
	FSChanges          []FileSystemChange
	MemoryRegions      []MemoryRegion
	Metrics            SystemMetrics
}

// EncodeCanonical implements codec.Encodable.
func (s *SystemSnapshot) EncodeCanonical(e *codec.Encoder) {
	e.PutFixedBytes(s.SnapshotID[:])
	e.PutUint64(s.TimestampNS)
	s.VMState.encode(e)
	e.PutUint32(uint32(len(s.Processes)))
	for i := range s.Processes {
		s.Processes[i].encode(e)
	}
	e.PutUint32(uint32(len(s.NetworkConnections)))
	for i := range s.NetworkConnections {
		s.NetworkConnections[i].encode(e)
	}
	e.PutUint32(uint32(len(s.FSChanges)))
	for i := range s.FSChanges {
		s.FSChanges[i].encode(e)
	}
	e.PutUint32(uint32(len(s.MemoryRegions)))
	for i := range s.MemoryRegions {
		s.MemoryRegions[i].encode(e)
	}
	s.Metrics.encode(e)
}

// DecodeCanonical implements codec.Decodable.
func (s *SystemSnapshot) DecodeCanonical(d *codec.Decoder) error {
	copy(s.SnapshotID[:], d.FixedBytes(16))
	s.TimestampNS = d.Uint64()
	s.VMState.decode(d)
	n := d.Uint32()
	if d.Err() != nil {
		return nil
	}
	s.Processes = make([]ProcessInfo, n)
	for i := range s.Processes {
		s.Processes[i].decode(d)
	}
	n = d.Uint32()
	if d.Err() != nil {
		return nil
	}
	s.NetworkConnections = make([]NetworkConnection, n)
	for i := range s.NetworkConnections {
		s.NetworkConnections[i].decode(d)
	}
	n = d.Uint32()
	if d.Err() != nil {
		return nil
	}
	s.FSChanges = make([]FileSystemChange, n)
	for i := range s.FSChanges {
		s.FSChanges[i].decode(d)
	}
	n = d.Uint32()
	if d.Err() != nil {
		return nil
	}
	s.MemoryRegions = make([]MemoryRegion, n)
	for i := range s.MemoryRegions {
		s.MemoryRegions[i].decode(d)
	}
	s.Metrics.decode(d)
	return nil
}

// AttackGraphNode is one reconstructed attack step. Technique and Tactic
// follow MITRE ATT&CK naming; EvidenceRefs and Connections reference node
// and evidence IDs by string, never by pointer.
type AttackGraphNode struct {
	NodeID          string
	Step            string
	TimestampNS     uint64
	Technique       string
	Tactic          string
	EvidenceRefs    []string
	ConfidenceMilli uint32 // confidence in thousandths (1000 = full); not range-checked
	Connections     []string
}

func (n *AttackGraphNode) encode(e *codec.Encoder) {
	e.PutString(n.NodeID)
	e.PutString(n.Step)
	e.PutUint64(n.TimestampNS)
	e.PutString(n.Technique)
	e.PutString(n.Tactic)
	e.PutStringSlice(n.EvidenceRefs)
	e.PutUint32(n.ConfidenceMilli)
	e.PutStringSlice(n.Connections)
}

func (n *AttackGraphNode) decode(d *codec.Decoder) {
	n.NodeID = d.String()
	n.Step = d.String()
	n.TimestampNS = d.Uint64()
	n.Technique = d.String()
	n.Tactic = d.String()
	n.EvidenceRefs = d.StringSlice()
	n.ConfidenceMilli = d.Uint32()
	n.Connections = d.StringSlice()
}

// AttackGraph is the reconstructed campaign: nodes linked by ID, a
// timeline of step timestamps, and the analyst's conclusions. Attribution
// is empty when no attribution was made.
type AttackGraph struct {
	GraphID     [16]byte
	CampaignID  string
	Nodes       []AttackGraphNode
	Timeline    []uint64
	RootCause   string
	Attribution string
	IOCs        []string
}

// EncodeCanonical implements codec.Encodable.
func (g *AttackGraph) EncodeCanonical(e *codec.Encoder) {
	e.PutFixedBytes(g.GraphID[:])
	e.PutString(g.CampaignID)
	e.PutUint32(uint32(len(g.Nodes)))
	for i := range g.Nodes {
		g.Nodes[i].encode(e)
	}
	e.PutUint32(uint32(len(g.Timeline)))
	for _, t := range g.Timeline {
		e.PutUint64(t)
	}
	e.PutString(g.RootCause)
	e.PutString(g.Attribution)
	e.PutStringSlice(g.IOCs)
}

// DecodeCanonical implements codec.Decodable.
func (g *AttackGraph) DecodeCanonical(d *codec.Decoder) error {
	copy(g.GraphID[:], d.FixedBytes(16))
	g.CampaignID = d.String()
	n := d.Uint32()
	if d.Err() != nil {
		return nil
	}
	g.Nodes = make([]AttackGraphNode, n)
	for i := range g.Nodes {
		g.Nodes[i].decode(d)
	}
	n = d.Uint32()
	if d.Err() != nil {
		return nil
	}
	g.Timeline = make([]uint64, n)
	for i := range g.Timeline {
		g.Timeline[i] = d.Uint64()
	}
	g.RootCause = d.String()
	g.Attribution = d.String()
	g.IOCs = d.StringSlice()
	return nil
}
