//go:build !linux

package wake

import (
	"github.com/cockroachdb/errors"

	logx "almanac/pkg/logx"
)

var errUnsupported = errors.New("sleep inhibitors need systemd-logind (linux only)")

func newLogind(logx.Logger) (Locker, error) {
	return nil, errUnsupported
}
