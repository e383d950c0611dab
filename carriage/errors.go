package carriage

import "errors"

var (
	// ErrInterlock is returned when the opposite drive line is engaged.
	ErrInterlock = errors.New("opposite direction already engaged")
	// ErrRange is returned when travel would leave outlets 1..3.
	ErrRange = errors.New("requested travel would exceed range")
	// ErrNotHomed is returned by GoTo while the position is unknown.
	ErrNotHomed = errors.New("machine not homed")
	// ErrHalted is returned when a Stop cuts a move or homing run short.
	// The tracked position is unknown afterwards.
	ErrHalted = errors.New("halted by stop")
	// ErrHomingNoContact is logged when a probing stage finds no stop point.
	ErrHomingNoContact = errors.New("no stop point detected")
	// ErrHomingUnresolved is returned when a trigger order matches no
	// known sequence.
	ErrHomingUnresolved = errors.New("trigger order matches no known sequence")
	// ErrStageOrder is returned when a homing stage is stepped out of turn.
	ErrStageOrder = errors.New("homing stage out of order")
)
