package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PartyCollector contributes the dependents who must join together with leader,
// e.g. the members of the leader's party.
type PartyCollector func(space *GameSpace, leader *PlayerHandle) []*PlayerHandle

type JoinerConfig struct {
	// RateLimit is the sustained number of join attempts per second per triggering player. Zero disables throttling.
	RateLimit float64
	Burst     int
}

// PlayerJoiner resolves party joins, screens them, and offers each participant independently.
type PlayerJoiner struct {
	logger     *zap.Logger
	registry   PlayerRegistry
	config     JoinerConfig
	collectors []PartyCollector
	limiters   map[PlayerID]*rate.Limiter
}

func NewPlayerJoiner(logger *zap.Logger, registry PlayerRegistry, config JoinerConfig, collectors ...PartyCollector) *PlayerJoiner {
	return &PlayerJoiner{
		logger:     logger,
		registry:   registry,
		config:     config,
		collectors: collectors,
		limiters:   make(map[PlayerID]*rate.Limiter),
	}
}

// AddPartyCollector registers another source of dependents.
func (j *PlayerJoiner) AddPartyCollector(c PartyCollector) {
	j.collectors = append(j.collectors, c)
}

// Forget drops per-player state, e.g. when the player disconnects.
func (j *PlayerJoiner) Forget(id PlayerID) {
	delete(j.limiters, id)
}

// TryJoin joins player and its dependents into space. It never panics; every failure is
// reported through the returned JoinResults.
func (j *PlayerJoiner) TryJoin(player *PlayerHandle, space *GameSpace) (results *JoinResults) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			j.logger.Error("Unexpected error while joining game space.", zap.String("uid", player.ID().String()), zap.Error(err), zap.Stack("stack"))
			results = HandleJoinError(err)
		}
	}()

	if !j.allow(player.ID()) {
		return &JoinResults{GlobalError: ErrJoinThrottled}
	}

	players := j.collectPlayersForJoin(player, space)
	return j.tryJoinAll(players, space)
}

func (j *PlayerJoiner) allow(id PlayerID) bool {
	if j.config.RateLimit <= 0 {
		return true
	}
	limiter, ok := j.limiters[id]
	if !ok {
		burst := j.config.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(j.config.RateLimit), burst)
		j.limiters[id] = limiter
	}
	return limiter.AllowN(time.Now(), 1)
}

func (j *PlayerJoiner) collectPlayersForJoin(player *PlayerHandle, space *GameSpace) []*PlayerHandle {
	players := []*PlayerHandle{player}
	for _, collect := range j.collectors {
		players = append(players, collect(space, player)...)
	}
	// Dependents that have already disconnected are left behind.
	players = lo.Filter(players, func(p *PlayerHandle, _ int) bool {
		return p != nil && (p == player || j.registry.Exists(p.ID()))
	})
	return lo.UniqBy(players, func(p *PlayerHandle) PlayerID { return p.ID() })
}

func (j *PlayerJoiner) tryJoinAll(players []*PlayerHandle, space *GameSpace) *JoinResults {
	results := NewJoinResults()

	if err := space.Players().ScreenJoins(players); err != nil {
		j.logger.Debug("Join screening failed.", zap.String("mid", space.ID().String()), zap.Int("players", len(players)), zap.Error(err))
		results.GlobalError = err
		return results
	}

	for _, p := range players {
		if err := space.Players().Join(p); err != nil {
			results.addPlayerError(p, err)
		}
	}
	return results
}

// HandleJoinError converts an unexpected failure into results carrying the best-known cause.
func HandleJoinError(err error) *JoinResults {
	var oErr *OpenError
	if errors.As(err, &oErr) {
		return &JoinResults{GlobalError: oErr}
	}
	return &JoinResults{GlobalError: ErrUnexpectedJoinFailure}
}

// JoinResults is the outcome of a party join. Partial success is a valid outcome.
type JoinResults struct {
	GlobalError  error
	PlayerErrors map[PlayerID]error

	players map[PlayerID]*PlayerHandle
	order   []PlayerID
}

func NewJoinResults() *JoinResults {
	return &JoinResults{
		PlayerErrors: make(map[PlayerID]error),
		players:      make(map[PlayerID]*PlayerHandle),
	}
}

func (r *JoinResults) addPlayerError(p *PlayerHandle, err error) {
	if r.PlayerErrors == nil {
		r.PlayerErrors = make(map[PlayerID]error)
		r.players = make(map[PlayerID]*PlayerHandle)
	}
	if _, ok := r.PlayerErrors[p.ID()]; !ok {
		r.order = append(r.order, p.ID())
	}
	r.PlayerErrors[p.ID()] = err
	r.players[p.ID()] = p
}

// OK is true when nobody failed.
func (r *JoinResults) OK() bool {
	return r.GlobalError == nil && len(r.PlayerErrors) == 0
}

const errorColor = "red"

// SendErrorsTo tells player what went wrong: the global error if there is one, otherwise a
// summary of per-player failures, with each failed player receiving its own error.
func (r *JoinResults) SendErrorsTo(player *PlayerHandle) error {
	if r.GlobalError != nil {
		return player.SendMessage(JoinErrorMessage(r.GlobalError), errorColor)
	}
	if len(r.PlayerErrors) == 0 {
		return nil
	}

	var errs []error
	if err := player.SendMessage(partyJoinErrorText(len(r.PlayerErrors)), errorColor); err != nil {
		errs = append(errs, err)
	}
	for _, id := range r.order {
		if err := r.players[id].SendMessage(JoinErrorMessage(r.PlayerErrors[id]), errorColor); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func partyJoinErrorText(n int) string {
	if n == 1 {
		return "1 player in your party could not join the game"
	}
	return fmt.Sprintf("%d players in your party could not join the game", n)
}
