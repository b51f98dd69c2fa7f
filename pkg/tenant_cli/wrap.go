// pkg/tenant_cli/wrap.go

package tenant_cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/fulcrumsec/tenantctl/pkg/tenant_err"
	"github.com/fulcrumsec/tenantctl/pkg/tenant_io"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Wrap adapts a RuntimeContext handler into a cobra RunE, adding panic
// recovery, signal-driven cancellation, and outcome logging.
func Wrap(fn func(rc *tenant_io.RuntimeContext, cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rc := tenant_io.NewContext(ctx, cmd.Name())
		defer rc.End(&err)

		defer func() {
			if r := recover(); r != nil {
				err = cerr.AssertionFailedf("panic: %v", r)
				rc.Log.Error("Panic recovered", zap.Any("panic", r))
			}
		}()

		err = fn(rc, cmd, args)
		if err != nil && errors.Is(err, context.Canceled) {
			err = tenant_err.NewUserCancelledError(cmd.Name())
		}
		return err
	}
}
