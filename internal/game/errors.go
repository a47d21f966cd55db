package game

import "errors"

// ErrorKind classifies rule violations reported by the engine
type ErrorKind string

const (
	KindDuplicatePlayer    ErrorKind = "DUPLICATE_PLAYER"
	KindGameFull           ErrorKind = "GAME_FULL"
	KindInvalidPlayerCount ErrorKind = "INVALID_PLAYER_COUNT"
	KindAlreadyStarted     ErrorKind = "ALREADY_STARTED"
	KindGameNotStarted     ErrorKind = "GAME_NOT_STARTED"
	KindGameOver           ErrorKind = "GAME_OVER"
	KindPlayerNotFound     ErrorKind = "PLAYER_NOT_FOUND"
	KindInvalidAddress     ErrorKind = "INVALID_ADDRESS"
	KindNotYourTurn        ErrorKind = "NOT_YOUR_TURN"
	KindCardNotFound       ErrorKind = "CARD_NOT_FOUND"
	KindCardNotInHand      ErrorKind = "CARD_NOT_IN_HAND"
	KindInsufficientEnergy ErrorKind = "INSUFFICIENT_ENERGY"
	KindFieldFull          ErrorKind = "FIELD_FULL"
)

// RuleError is an expected validation failure. It is returned to callers and
// serialized into results; it never indicates a fault in the engine.
type RuleError struct {
	Kind    ErrorKind
	Message string
}

func (e *RuleError) Error() string {
	return e.Message
}

// Is matches any RuleError of the same kind, so wrapped or re-created errors
// still compare equal to the sentinels below.
func (e *RuleError) Is(target error) bool {
	var re *RuleError
	if !errors.As(target, &re) {
		return false
	}
	return re.Kind == e.Kind
}

var (
	ErrDuplicatePlayer    = &RuleError{Kind: KindDuplicatePlayer, Message: "Player already in game"}
	ErrGameFull           = &RuleError{Kind: KindGameFull, Message: "Game already has two players"}
	ErrInvalidPlayerCount = &RuleError{Kind: KindInvalidPlayerCount, Message: "Need exactly 2 players to start game"}
	ErrAlreadyStarted     = &RuleError{Kind: KindAlreadyStarted, Message: "Game already started"}
	ErrGameNotStarted     = &RuleError{Kind: KindGameNotStarted, Message: "Game has not started"}
	ErrGameOver           = &RuleError{Kind: KindGameOver, Message: "Game has ended"}
	ErrPlayerNotFound     = &RuleError{Kind: KindPlayerNotFound, Message: "Player not found"}
	ErrInvalidAddress     = &RuleError{Kind: KindInvalidAddress, Message: "Player address is required"}
	ErrNotYourTurn        = &RuleError{Kind: KindNotYourTurn, Message: "Not your turn"}
	ErrCardNotFound       = &RuleError{Kind: KindCardNotFound, Message: "Card not found"}
	ErrCardNotInHand      = &RuleError{Kind: KindCardNotInHand, Message: "Card not in hand"}
	ErrInsufficientEnergy = &RuleError{Kind: KindInsufficientEnergy, Message: "Not enough energy"}
	ErrFieldFull          = &RuleError{Kind: KindFieldFull, Message: "Field is full"}
)

// Reconstruction and lookup failures. These are not rule violations.
var (
	ErrSessionNotFound   = errors.New("game session not found")
	ErrIncompleteSession = errors.New("game session does not have two player states")
	ErrUnknownCardID     = errors.New("persisted card id not in catalog")
	// ErrStaleEngine means storage moved past the cached engine; the caller
	// should retry against a freshly reconstructed one
	ErrStaleEngine = errors.New("game state changed in another process")
)

// IsRuleError reports whether err is an expected validation failure
func IsRuleError(err error) bool {
	var re *RuleError
	return errors.As(err, &re)
}
