package strata

import "github.com/strataorm/strata/internal/errs"

// 为了使用方便，提供重新导出的 error
// 使用的时候，直接用 errors.Is 判断即可
var (
	ErrPointerOnly     = errs.ErrPointerOnly
	ErrDialectUnset    = errs.ErrDialectUnset
	ErrNotEntity       = errs.ErrNotEntity
	ErrReadOnlyEntity  = errs.ErrReadOnlyEntity
	ErrEntityDeleted   = errs.ErrEntityDeleted
	ErrRankChangeOnNew = errs.ErrRankChangeOnNew
)
