package service

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrOutOfStock             = errors.New("out of stock")
	ErrExhausted              = errors.New("admission tickets exhausted")
	ErrActivityClosed         = errors.New("activity closed")
	ErrCapExceedsStock        = errors.New("activity cap exceeds variant stock")
	ErrConcurrencyConflict    = errors.New("concurrent update conflict")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInvalidArgument        = errors.New("invalid argument")

	// ErrStockUnderflow 扣减后库存会变负：已截断为 0 并记录人工对账事件。
	ErrStockUnderflow = errors.New("stock underflow")

	// errVersionConflict 乐观锁失败，内部重试一次后转为 ErrConcurrencyConflict。
	errVersionConflict = errors.New("version conflict")
)
