package shogi

import "errors"

var (
	// ErrIntegrity marks a broken data invariant: the caller or the rules
	// oracle let through something that can never happen in a real game.
	ErrIntegrity = errors.New("integrity violation")

	ErrIllegalAction      = errors.New("illegal action")
	ErrGameOver           = errors.New("game is over")
	ErrNotYourTurn        = errors.New("not this actor's turn")
	ErrPromotionPending   = errors.New("promotion decision pending")
	ErrNoPendingPromotion = errors.New("no promotion decision pending")
)
