// Package roundtable runs turn-based multi-provider discussion
// sessions with gapless message sequencing.
package roundtable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aethergate/aethergate/internal/budget"
	"github.com/aethergate/aethergate/internal/dispatch"
	"github.com/aethergate/aethergate/internal/models"
	"github.com/aethergate/aethergate/internal/provider"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Coordinator errors.
var (
	ErrSessionNotFound  = errors.New("roundtable: session not found")
	ErrSessionCompleted = errors.New("roundtable: session already completed")
	ErrSessionPaused    = errors.New("roundtable: session is paused")
	ErrNoParticipants   = errors.New("roundtable: session has no participants")
)

// Participant is one ordered entry in a session's provider list.
type Participant struct {
	ProviderID string `json:"providerId"`
}

// TurnExecutor runs one provider turn for a session. The orchestration
// engine satisfies this, applying budget checks and usage recording per
// turn.
type TurnExecutor interface {
	ExecuteTurn(ctx context.Context, orgID uint64, desc *provider.Descriptor, prompt, taskHint string) (*dispatch.Result, error)
}

// Coordinator manages roundtable sessions. Rounds for a given session
// run one at a time under a per-session lock.
type Coordinator struct {
	db       *gorm.DB
	registry *provider.Registry
	executor TurnExecutor

	mu    sync.Mutex
	locks map[uint64]*sync.Mutex

	// historyLimit bounds how many prior messages feed each turn prompt.
	historyLimit int
}

// NewCoordinator constructs a coordinator.
func NewCoordinator(db *gorm.DB, registry *provider.Registry, executor TurnExecutor) *Coordinator {
	return &Coordinator{
		db:           db,
		registry:     registry,
		executor:     executor,
		locks:        make(map[uint64]*sync.Mutex),
		historyLimit: 12,
	}
}

func (c *Coordinator) lockFor(sessionID uint64) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[sessionID] = lock
	}
	return lock
}

// CreateSession creates an active session. Participant order is
// preserved and defines round_robin turn order.
func (c *Coordinator) CreateSession(ctx context.Context, orgID uint64, memberID *uint64, mode models.RoundtableMode, topic string, maxTurns int, participants []Participant) (*models.RoundtableSession, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("roundtable: invalid mode %q", mode)
	}
	if len(participants) == 0 {
		return nil, ErrNoParticipants
	}
	if maxTurns < 0 {
		return nil, fmt.Errorf("roundtable: negative maxTurns %d", maxTurns)
	}
	for _, p := range participants {
		if _, _, ok := c.registry.Get(p.ProviderID); !ok {
			return nil, fmt.Errorf("roundtable: unknown participant provider %q", p.ProviderID)
		}
	}

	encoded, errMarshal := json.Marshal(participants)
	if errMarshal != nil {
		return nil, fmt.Errorf("roundtable: encode participants: %w", errMarshal)
	}

	session := models.RoundtableSession{
		PublicID:     uuid.NewString(),
		OrgID:        orgID,
		MemberID:     memberID,
		Mode:         mode,
		Topic:        strings.TrimSpace(topic),
		State:        models.RoundtableActive,
		MaxTurns:     maxTurns,
		Participants: datatypes.JSON(encoded),
	}
	if errCreate := c.db.WithContext(ctx).Create(&session).Error; errCreate != nil {
		return nil, fmt.Errorf("roundtable: create session: %w", errCreate)
	}
	return &session, nil
}

// GetSession loads a session by caller-facing id, scoped to an org.
func (c *Coordinator) GetSession(ctx context.Context, orgID uint64, publicID string) (*models.RoundtableSession, error) {
	var session models.RoundtableSession
	if errLoad := c.db.WithContext(ctx).
		Where("org_id = ? AND public_id = ?", orgID, publicID).
		Take(&session).Error; errLoad != nil {
		if errors.Is(errLoad, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, errLoad
	}
	return &session, nil
}

// Pause stops future rounds without discarding session state.
func (c *Coordinator) Pause(ctx context.Context, orgID uint64, publicID string) (*models.RoundtableSession, error) {
	return c.transition(ctx, orgID, publicID, models.RoundtablePaused)
}

// Resume reactivates a paused session. Completed sessions stay completed.
func (c *Coordinator) Resume(ctx context.Context, orgID uint64, publicID string) (*models.RoundtableSession, error) {
	return c.transition(ctx, orgID, publicID, models.RoundtableActive)
}

// End completes a session regardless of turns consumed.
func (c *Coordinator) End(ctx context.Context, orgID uint64, publicID string) (*models.RoundtableSession, error) {
	return c.transition(ctx, orgID, publicID, models.RoundtableCompleted)
}

func (c *Coordinator) transition(ctx context.Context, orgID uint64, publicID string, target models.RoundtableState) (*models.RoundtableSession, error) {
	session, err := c.GetSession(ctx, orgID, publicID)
	if err != nil {
		return nil, err
	}
	if session.State == models.RoundtableCompleted && target != models.RoundtableCompleted {
		return nil, ErrSessionCompleted
	}
	if session.State == target {
		return session, nil
	}
	if errSave := c.db.WithContext(ctx).Model(&models.RoundtableSession{}).
		Where("id = ?", session.ID).
		Update("state", target).Error; errSave != nil {
		return nil, errSave
	}
	session.State = target
	return session, nil
}

// Messages returns a session's messages in sequence order.
func (c *Coordinator) Messages(ctx context.Context, orgID uint64, publicID string) ([]models.RoundtableMessage, error) {
	session, err := c.GetSession(ctx, orgID, publicID)
	if err != nil {
		return nil, err
	}
	var rows []models.RoundtableMessage
	if errFind := c.db.WithContext(ctx).
		Where("session_id = ?", session.ID).
		Order("sequence_number ASC").
		Find(&rows).Error; errFind != nil {
		return nil, errFind
	}
	return rows, nil
}

// PostUserMessage appends a user message to an active session.
func (c *Coordinator) PostUserMessage(ctx context.Context, orgID uint64, publicID, content string) (*models.RoundtableMessage, error) {
	session, err := c.GetSession(ctx, orgID, publicID)
	if err != nil {
		return nil, err
	}
	if session.State == models.RoundtableCompleted {
		return nil, ErrSessionCompleted
	}

	lock := c.lockFor(session.ID)
	lock.Lock()
	defer lock.Unlock()

	return c.appendMessage(ctx, session.ID, session.CurrentTurn, models.RoundtableSenderUser, "", content)
}

// RoundResult summarizes one completed round.
type RoundResult struct {
	Turn      int
	Messages  []models.RoundtableMessage
	Completed bool
}

// RunRound runs one full round: each participant takes one turn in the
// order the session mode dictates. A provider whose turn fails is
// skipped with a system message and the round continues. A budget
// denial aborts the rest of the round. When the round finishes the turn
// counter advances, and reaching maxTurns completes the session.
func (c *Coordinator) RunRound(ctx context.Context, orgID uint64, publicID string) (*RoundResult, error) {
	session, err := c.GetSession(ctx, orgID, publicID)
	if err != nil {
		return nil, err
	}

	lock := c.lockFor(session.ID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: a concurrent round may have advanced or
	// completed the session.
	session, err = c.GetSession(ctx, orgID, publicID)
	if err != nil {
		return nil, err
	}
	switch session.State {
	case models.RoundtableCompleted:
		return nil, ErrSessionCompleted
	case models.RoundtablePaused:
		return nil, ErrSessionPaused
	}

	participants, errDecode := decodeParticipants(session.Participants)
	if errDecode != nil {
		return nil, errDecode
	}
	speakers := c.orderSpeakers(session, participants)
	if len(speakers) == 0 {
		return nil, ErrNoParticipants
	}

	turn := session.CurrentTurn + 1
	result := &RoundResult{Turn: turn}
	var abort error

	for _, desc := range speakers {
		prompt, errPrompt := c.buildPrompt(ctx, session, desc.ID)
		if errPrompt != nil {
			return nil, errPrompt
		}

		turnResult, errTurn := c.executor.ExecuteTurn(ctx, session.OrgID, desc, prompt, session.Topic)
		if errTurn != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			note := fmt.Sprintf("%s could not take its turn and was skipped", desc.ID)
			msg, errNote := c.appendMessage(ctx, session.ID, turn, models.RoundtableSenderSystem, desc.ID, note)
			if errNote != nil {
				return nil, errNote
			}
			result.Messages = append(result.Messages, *msg)
			log.WithError(errTurn).Warnf("roundtable session %s: turn for %s failed", session.PublicID, desc.ID)

			if isBudgetDenial(errTurn) {
				abort = errTurn
				break
			}
			continue
		}

		msg, errAppend := c.appendMessage(ctx, session.ID, turn, models.RoundtableSenderProvider, desc.ID, turnResult.Content)
		if errAppend != nil {
			return nil, errAppend
		}
		result.Messages = append(result.Messages, *msg)
	}

	completed := false
	if errAdvance := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.RoundtableSession
		if errLock := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&row, session.ID).Error; errLock != nil {
			return errLock
		}
		updates := map[string]interface{}{"current_turn": turn}
		if row.MaxTurns > 0 && turn >= row.MaxTurns {
			updates["state"] = models.RoundtableCompleted
			completed = true
		}
		return tx.Model(&models.RoundtableSession{}).
			Where("id = ?", row.ID).
			Updates(updates).Error
	}); errAdvance != nil {
		return nil, errAdvance
	}
	result.Completed = completed

	if abort != nil {
		return result, abort
	}
	return result, nil
}

// orderSpeakers resolves participant descriptors in turn order for the
// session's mode. round_robin and free_form keep registration order;
// topic_based re-ranks by topic relevance with registration order
// breaking ties.
func (c *Coordinator) orderSpeakers(session *models.RoundtableSession, participants []Participant) []*provider.Descriptor {
	speakers := make([]*provider.Descriptor, 0, len(participants))
	for _, p := range participants {
		desc, _, ok := c.registry.Get(p.ProviderID)
		if !ok {
			log.Warnf("roundtable session %s: participant %s no longer registered", session.PublicID, p.ProviderID)
			continue
		}
		speakers = append(speakers, desc)
	}
	if session.Mode == models.RoundtableTopicBased && session.Topic != "" {
		sort.SliceStable(speakers, func(i, j int) bool {
			return speakers[i].Relevance(session.Topic) > speakers[j].Relevance(session.Topic)
		})
	}
	return speakers
}

// buildPrompt renders the turn prompt for a speaker from the topic and
// recent session history.
func (c *Coordinator) buildPrompt(ctx context.Context, session *models.RoundtableSession, speakerID string) (string, error) {
	var history []models.RoundtableMessage
	if errFind := c.db.WithContext(ctx).
		Where("session_id = ?", session.ID).
		Order("sequence_number DESC").
		Limit(c.historyLimit).
		Find(&history).Error; errFind != nil {
		return "", errFind
	}
	// Restore chronological order.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}

	var b strings.Builder
	if session.Topic != "" {
		fmt.Fprintf(&b, "Discussion topic: %s\n\n", session.Topic)
	}
	for _, msg := range history {
		switch msg.Sender {
		case models.RoundtableSenderProvider:
			fmt.Fprintf(&b, "%s: %s\n", msg.ProviderID, msg.Content)
		case models.RoundtableSenderUser:
			fmt.Fprintf(&b, "user: %s\n", msg.Content)
		default:
			fmt.Fprintf(&b, "[system] %s\n", msg.Content)
		}
	}
	fmt.Fprintf(&b, "\nYou are %s. Contribute the next message to the discussion.", speakerID)
	return b.String(), nil
}

// appendMessage writes one message with the next gapless sequence
// number, starting at 1. The session row lock serializes assignment.
func (c *Coordinator) appendMessage(ctx context.Context, sessionID uint64, turn int, sender models.RoundtableSender, providerID, content string) (*models.RoundtableMessage, error) {
	row := models.RoundtableMessage{
		SessionID:  sessionID,
		Sender:     sender,
		ProviderID: providerID,
		Content:    content,
		Turn:       turn,
	}
	if errTx := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.RoundtableSession
		if errLock := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&session, sessionID).Error; errLock != nil {
			return errLock
		}
		var maxSeq int
		if errMax := tx.Model(&models.RoundtableMessage{}).
			Where("session_id = ?", sessionID).
			Select("COALESCE(MAX(sequence_number), 0)").
			Scan(&maxSeq).Error; errMax != nil {
			return errMax
		}
		row.SequenceNumber = maxSeq + 1
		return tx.Create(&row).Error
	}); errTx != nil {
		return nil, fmt.Errorf("roundtable: append message: %w", errTx)
	}
	return &row, nil
}

func decodeParticipants(raw datatypes.JSON) ([]Participant, error) {
	var participants []Participant
	if errDecode := json.Unmarshal(raw, &participants); errDecode != nil {
		return nil, fmt.Errorf("roundtable: decode participants: %w", errDecode)
	}
	return participants, nil
}

// isBudgetDenial reports whether a turn failed because the organization
// ran out of budget, which aborts the rest of the round.
func isBudgetDenial(err error) bool {
	var denial *budget.ExceededError
	return errors.As(err, &denial)
}
