package websocket

import (
	"log"
	"sort"
	"sync"

	"mentorsync/internal/session"
	"mentorsync/pkg/interfaces"
	"mentorsync/pkg/types"
)

// JoinResult describes a participant's membership after Join.
type JoinResult struct {
	Occupancy int
	Role      types.Role
	// Token is set only for the mentor.
	Token string
	Fence uint64
	// AlreadyJoined is set when the participant was a member before the call.
	AlreadyJoined bool
	Reclaimed     bool
}

// room holds one room's membership. All fields are guarded by mu.
type room struct {
	mu          sync.Mutex
	id          string
	members     map[string]interfaces.Participant
	mentorID    string
	mentorToken string
	fence       uint64
	// reaped marks a room removed from the registry map; holders of a stale
	// pointer must look the room up again.
	reaped bool
}

// Registry tracks room membership and the mentor seat of each room.
// ARCHITECTURAL DISCOVERY: one mutex per room serializes joins and leaves
// of that room while the map mutex only guards lookups and reaping.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*room
	arbiter *session.Arbiter
}

// NewRegistry creates a registry that assigns roles through arbiter.
func NewRegistry(arbiter *session.Arbiter) *Registry {
	if arbiter == nil {
		arbiter = session.NewArbiter(nil)
	}
	return &Registry{
		rooms:   make(map[string]*room),
		arbiter: arbiter,
	}
}

// lockRoom returns the named room with its mutex held, or nil when the room
// does not exist and create is false.
// Lock order is room.mu before Registry.mu; this never holds both.
func (r *Registry) lockRoom(roomID string, create bool) *room {
	for {
		r.mu.Lock()
		rm, ok := r.rooms[roomID]
		if !ok {
			if !create {
				r.mu.Unlock()
				return nil
			}
			rm = &room{id: roomID, members: make(map[string]interfaces.Participant)}
			r.rooms[roomID] = rm
		}
		r.mu.Unlock()

		rm.mu.Lock()
		if !rm.reaped {
			return rm
		}
		rm.mu.Unlock()
	}
}

// Join adds p to roomID and assigns its role in the same critical section,
// so concurrent joiners of an empty room cannot both become mentor.
// Joining a room p already belongs to returns its current role unchanged.
func (r *Registry) Join(roomID string, p interfaces.Participant, claimedToken string) (*JoinResult, error) {
	if p == nil {
		return nil, ErrNilParticipant
	}
	if !types.IsValidRoomID(roomID) {
		return nil, types.ErrInvalidRoomID
	}

	rm := r.lockRoom(roomID, true)
	defer rm.mu.Unlock()

	id := p.GetID()
	if _, ok := rm.members[id]; ok {
		result := &JoinResult{
			Occupancy:     len(rm.members),
			Role:          types.RoleStudent,
			AlreadyJoined: true,
		}
		if rm.mentorID == id {
			result.Role = types.RoleMentor
			result.Token = rm.mentorToken
			result.Fence = rm.fence
		}
		return result, nil
	}

	rm.members[id] = p
	occupancy := len(rm.members)

	assignment := r.arbiter.Assign(roomID, occupancy, id, claimedToken, rm.mentorID != "")
	result := &JoinResult{
		Occupancy: occupancy,
		Role:      assignment.Role,
		Reclaimed: assignment.Reclaimed,
	}

	if assignment.Role == types.RoleMentor {
		rm.mentorID = id
		rm.mentorToken = assignment.Token
		rm.fence = assignment.Fence
		result.Token = assignment.Token
		result.Fence = assignment.Fence
	}

	log.Printf("Participant joined: conn=%s room=%s role=%s occupancy=%d", id, roomID, result.Role, occupancy)
	return result, nil
}

// Leave removes participantID from roomID and reaps the room once empty.
// It reports whether the participant was a member.
func (r *Registry) Leave(roomID, participantID string) bool {
	rm := r.lockRoom(roomID, false)
	if rm == nil {
		return false
	}
	defer rm.mu.Unlock()

	if _, ok := rm.members[participantID]; !ok {
		return false
	}
	delete(rm.members, participantID)

	if rm.mentorID == participantID {
		rm.mentorID = ""
		rm.mentorToken = ""
		log.Printf("Mentor seat vacated: room=%s", roomID)
	}

	if len(rm.members) == 0 {
		rm.reaped = true
		r.mu.Lock()
		if r.rooms[roomID] == rm {
			delete(r.rooms, roomID)
		}
		r.mu.Unlock()
	}

	log.Printf("Participant left: conn=%s room=%s occupancy=%d", participantID, roomID, len(rm.members))
	return true
}

// Count returns the occupancy of roomID; unknown rooms have none.
func (r *Registry) Count(roomID string) int {
	rm := r.lockRoom(roomID, false)
	if rm == nil {
		return 0
	}
	defer rm.mu.Unlock()
	return len(rm.members)
}

// Recipients returns every member of roomID except sourceID, provided
// sourceID holds the mentor seat under fence.
func (r *Registry) Recipients(roomID, sourceID string, fence uint64) ([]interfaces.Participant, error) {
	rm := r.lockRoom(roomID, false)
	if rm == nil {
		return nil, ErrRoomNotFound
	}
	defer rm.mu.Unlock()

	if rm.mentorID == "" || rm.mentorID != sourceID || rm.fence != fence {
		return nil, ErrNotMentor
	}

	recipients := make([]interfaces.Participant, 0, len(rm.members)-1)
	for id, p := range rm.members {
		if id == sourceID {
			continue
		}
		recipients = append(recipients, p)
	}
	return recipients, nil
}

// Members returns every participant currently in roomID.
func (r *Registry) Members(roomID string) []interfaces.Participant {
	rm := r.lockRoom(roomID, false)
	if rm == nil {
		return nil
	}
	defer rm.mu.Unlock()

	members := make([]interfaces.Participant, 0, len(rm.members))
	for _, p := range rm.members {
		members = append(members, p)
	}
	return members
}

// Snapshot returns the occupancy view of roomID. Unknown rooms report zero
// occupants and no mentor.
func (r *Registry) Snapshot(roomID string) types.RoomSnapshot {
	snap := types.RoomSnapshot{RoomID: roomID}

	rm := r.lockRoom(roomID, false)
	if rm == nil {
		return snap
	}
	defer rm.mu.Unlock()

	snap.OnlineUsers = len(rm.members)
	snap.HasMentor = rm.mentorID != ""
	return snap
}

// Snapshots returns a view of every live room ordered by room ID.
func (r *Registry) Snapshots() []types.RoomSnapshot {
	r.mu.RLock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)

	snaps := make([]types.RoomSnapshot, 0, len(ids))
	for _, id := range ids {
		snap := r.Snapshot(id)
		if snap.OnlineUsers == 0 {
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps
}

// Stats returns registry statistics for monitoring.
func (r *Registry) Stats() map[string]int {
	snaps := r.Snapshots()

	participants := 0
	mentors := 0
	for _, s := range snaps {
		participants += s.OnlineUsers
		if s.HasMentor {
			mentors++
		}
	}

	return map[string]int{
		"active_rooms":       len(snaps),
		"total_participants": participants,
		"rooms_with_mentor":  mentors,
	}
}
