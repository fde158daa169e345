package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"mentorsync/pkg/interfaces"
	"mentorsync/pkg/types"
)

// Decision is the outcome of the role rule for one join.
type Decision struct {
	Role types.Role
	// IssueToken is set when the participant is alone and must receive a
	// fresh mentor token.
	IssueToken bool
	// Reclaimed is set when a returning mentor presented its cached token.
	Reclaimed bool
}

// Decide applies the role rule. occupancy counts the joining participant.
// presented is the token the participant cached from an earlier mentor
// grant, recorded is the token last issued for this room and mentorPresent
// reports whether another participant currently holds the seat.
//
// A sole occupant always becomes mentor with a new token. With company, the
// participant is a student unless it presents the room's recorded token
// while the seat is empty. Anything undeterminable yields student.
func Decide(roomID string, occupancy int, presented, recorded string, mentorPresent bool) Decision {
	if roomID == "" || occupancy < 1 {
		return Decision{Role: types.RoleStudent}
	}

	if occupancy == 1 {
		return Decision{Role: types.RoleMentor, IssueToken: true}
	}

	if presented != "" && presented == recorded && !mentorPresent {
		return Decision{Role: types.RoleMentor, Reclaimed: true}
	}

	return Decision{Role: types.RoleStudent}
}

// Assignment is what the registry records for a joining participant.
type Assignment struct {
	Role      types.Role
	Token     string
	Fence     uint64
	Reclaimed bool
}

// Arbiter keeps the per-room mentor claim ledger behind Decide. Each mentor
// grant bumps the room's fence so a superseded mentor can be told apart.
// Grants are written to the claim store by a background writer, so Assign
// never waits on disk.
type Arbiter struct {
	mu     sync.Mutex
	claims map[string]*types.MentorClaim
	store  interfaces.ClaimStore
	now    func() time.Time

	// pending holds the newest unwritten claim per room
	pending   map[string]*types.MentorClaim
	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewArbiter creates an arbiter. store may be nil, in which case claims live
// only as long as the process. Close flushes and stops the writer.
func NewArbiter(store interfaces.ClaimStore) *Arbiter {
	a := &Arbiter{
		claims:  make(map[string]*types.MentorClaim),
		store:   store,
		now:     time.Now,
		pending: make(map[string]*types.MentorClaim),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if store == nil {
		close(a.done)
		return a
	}
	go a.writeLoop()
	return a
}

// LoadClaims seeds the ledger from the claim store.
func (a *Arbiter) LoadClaims(ctx context.Context) error {
	if a.store == nil {
		return nil
	}

	claims, err := a.store.ListMentorClaims(ctx)
	if err != nil {
		return fmt.Errorf("failed to load mentor claims: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, claim := range claims {
		a.claims[claim.RoomID] = claim
	}

	log.Printf("Loaded %d mentor claims", len(claims))
	return nil
}

// Assign decides the role for participantID joining roomID. The caller
// must hold the room's lock so occupancy and mentorPresent cannot change
// underneath the decision.
func (a *Arbiter) Assign(roomID string, occupancy int, participantID, presented string, mentorPresent bool) Assignment {
	a.mu.Lock()

	var recorded string
	var fence uint64
	if claim, ok := a.claims[roomID]; ok {
		recorded = claim.Token
		fence = claim.Fence
	}

	decision := Decide(roomID, occupancy, presented, recorded, mentorPresent)
	if decision.Role != types.RoleMentor {
		a.mu.Unlock()
		return Assignment{Role: types.RoleStudent}
	}

	token := recorded
	if decision.IssueToken {
		token = participantID
	}

	claim := &types.MentorClaim{
		RoomID:   roomID,
		Token:    token,
		Fence:    fence + 1,
		IssuedAt: a.now(),
	}
	a.claims[roomID] = claim
	if a.store != nil {
		a.pending[roomID] = claim
	}
	a.mu.Unlock()

	if a.store != nil {
		select {
		case a.wake <- struct{}{}:
		default:
		}
	}

	return Assignment{
		Role:      types.RoleMentor,
		Token:     claim.Token,
		Fence:     claim.Fence,
		Reclaimed: decision.Reclaimed,
	}
}

// Claim returns a copy of the room's current claim.
func (a *Arbiter) Claim(roomID string) (types.MentorClaim, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	claim, ok := a.claims[roomID]
	if !ok {
		return types.MentorClaim{}, ErrClaimNotFound
	}
	return *claim, nil
}

// Restore installs a claim directly, for tests and store replay.
func (a *Arbiter) Restore(claim types.MentorClaim) error {
	if claim.RoomID == "" || claim.Token == "" || claim.Fence == 0 {
		return ErrInvalidClaim
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.claims[claim.RoomID] = &claim
	return nil
}

// Close writes any pending claims and stops the writer.
func (a *Arbiter) Close() error {
	a.closeOnce.Do(func() { close(a.stop) })
	<-a.done
	return nil
}

// writeLoop is the only writer of claims, so a room's grants reach the
// store in fence order.
func (a *Arbiter) writeLoop() {
	defer close(a.done)

	for {
		select {
		case <-a.wake:
			a.flush()
		case <-a.stop:
			a.flush()
			return
		}
	}
}

func (a *Arbiter) flush() {
	a.mu.Lock()
	batch := a.pending
	a.pending = make(map[string]*types.MentorClaim)
	a.mu.Unlock()

	for _, claim := range batch {
		a.persist(claim)
	}
}

func (a *Arbiter) persist(claim *types.MentorClaim) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.store.SaveMentorClaim(ctx, claim); err != nil {
		log.Printf("Failed to persist mentor claim: room=%s fence=%d: %v", claim.RoomID, claim.Fence, err)
	}
}
