package zone

// MirrorBrightness is the peer target value meaning "use the brightness the
// peer reports".
const MirrorBrightness = -1

// PeerTracker records the last observed state of every tracked peer light.
type PeerTracker struct {
	targets map[string]int
	seen    map[string]PeerState
}

// PeerState is the last observed state of a peer.
type PeerState struct {
	On         bool `json:"on"`
	Brightness int  `json:"brightness,omitempty"`
}

// NewPeerTracker creates a tracker for the given peer → target brightness
// mapping, with every peer initially off.
func NewPeerTracker(targets map[string]int) *PeerTracker {
	p := &PeerTracker{
		targets: make(map[string]int, len(targets)),
		seen:    make(map[string]PeerState, len(targets)),
	}
	for id, br := range targets {
		p.targets[id] = br
		p.seen[id] = PeerState{}
	}
	return p
}

// Tracks reports whether the peer is configured.
func (p *PeerTracker) Tracks(peerID string) bool {
	_, ok := p.targets[peerID]
	return ok
}

// On records a peer turning on with the given reported brightness and returns
// the brightness this zone should turn on at.
func (p *PeerTracker) On(peerID string, reported int) int {
	p.seen[peerID] = PeerState{On: true, Brightness: reported}
	if t := p.targets[peerID]; t != MirrorBrightness {
		return t
	}
	return reported
}

// Off records a peer turning off.
func (p *PeerTracker) Off(peerID string) {
	p.seen[peerID] = PeerState{}
}

// AnyOn reports whether any tracked peer is still on.
func (p *PeerTracker) AnyOn() bool {
	for _, v := range p.seen {
		if v.On {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the last observed peer values.
func (p *PeerTracker) Snapshot() map[string]PeerState {
	out := make(map[string]PeerState, len(p.seen))
	for k, v := range p.seen {
		out[k] = v
	}
	return out
}
