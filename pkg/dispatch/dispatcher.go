package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/atinyvectors/warren/pkg/apierr"
	"github.com/atinyvectors/warren/pkg/engine"
	"github.com/atinyvectors/warren/pkg/idcache"
	"github.com/atinyvectors/warren/pkg/log"
	"github.com/atinyvectors/warren/pkg/metrics"
	"github.com/atinyvectors/warren/pkg/rbac"
	"github.com/atinyvectors/warren/pkg/snapshot"
)

// Dispatcher is the apply-side command handler: it matches a Command's Op
// against the known tags and delegates to the facade that owns that
// concern. Every method here runs AFTER the command has already been
// committed to the replicated log — any error it returns is logged by the
// caller (the FSM's Apply) and never rolls back the commit or aborts the
// apply loop. Unknown Op values are logged and skipped, which keeps older
// binaries forward-compatible with commands a newer leader might log.
type Dispatcher struct {
	Engine      *engine.Facade
	RBAC        *rbac.Manager
	IDs         *idcache.Cache
	Snapshot    *snapshot.Coordinator
	InstanceID  uint64
	HTTPAddr    string
}

// Dispatch runs cmd and returns any error the underlying facade produced.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) error {
	// One debug line per applied command, tagged with the entity it touches.
	switch {
	case cmd.Op == OpVectorWithVersion:
		versionLogger := log.WithVersion(cmd.SpaceName, int64(cmd.VersionID))
		versionLogger.Debug().Str("op", cmd.Op).Msg("applying command")
	case cmd.SpaceName != "":
		spaceLogger := log.WithSpace(cmd.SpaceName)
		spaceLogger.Debug().Str("op", cmd.Op).Msg("applying command")
	default:
		log.Logger.Debug().Str("op", cmd.Op).Msg("applying command")
	}

	switch cmd.Op {
	case OpSpace:
		if err := d.Engine.CreateSpace(ctx, cmd.Value); err != nil {
			return err
		}
		d.IDs.ClearSpaceNameCache()
		return nil

	case OpUpdateSpace:
		if err := d.Engine.UpdateSpace(cmd.SpaceName, cmd.Value); err != nil {
			return err
		}
		d.IDs.ClearSpaceNameCache()
		return nil

	case OpDeleteSpace:
		if err := d.Engine.DeleteSpace(cmd.SpaceName, cmd.Value); err != nil {
			return err
		}
		d.IDs.ClearSpaceNameCache()
		return nil

	case OpVersion:
		if err := d.Engine.CreateVersion(cmd.SpaceName, cmd.Value); err != nil {
			return err
		}
		d.IDs.ClearSpaceNameCache()
		return nil

	case OpDeleteVersion:
		if err := d.Engine.DeleteVersion(cmd.SpaceName, cmd.VersionID); err != nil {
			return err
		}
		d.IDs.ClearSpaceNameCache()
		return nil

	case OpVector:
		return d.Engine.UpsertVectors(cmd.SpaceName, 0, cmd.Value)

	case OpVectorWithVersion:
		return d.Engine.UpsertVectors(cmd.SpaceName, cmd.VersionID, cmd.Value)

	case OpCreateSnapshot:
		_, err := d.Snapshot.Create()
		return err

	case OpSnapshotDelete:
		return d.Snapshot.Delete(cmd.FileName)

	case OpSnapshotRestore:
		if err := d.Snapshot.Restore(cmd.FileName); err != nil {
			return err
		}
		d.IDs.Clean()
		return nil

	case OpSnapshotSync:
		return d.dispatchSnapshotSync(cmd)

	case OpCreateRBACToken:
		return d.RBAC.NewToken(cmd.Token, cmd.Value)

	case OpUpdateRBACToken:
		return d.RBAC.UpdateToken(cmd.Token, cmd.Value)

	case OpDeleteRBACToken:
		return d.RBAC.DeleteToken(cmd.Token)

	case OpStoragePutKey:
		var value []byte
		if err := json.Unmarshal(cmd.Value, &value); err != nil {
			return fmt.Errorf("decode kv value: %w: %w", apierr.ErrValidation, err)
		}
		return d.Engine.Put(cmd.SpaceName, cmd.Key, value)

	case OpStorageRemoveKey:
		return d.Engine.Remove(cmd.SpaceName, cmd.Key)

	default:
		return fmt.Errorf("unknown command %q: %w", cmd.Op, apierr.ErrValidation)
	}
}

// dispatchSnapshotSync implements the leader/follower branch: the node
// that logged the command (LeaderID == our InstanceID) already has the
// file locally and skips straight to restoring; every other node fetches
// it over HTTP from LeaderAddr first. Fetch failures are logged here
// but are not themselves fatal — the Restore call below is what
// actually surfaces a missing file.
func (d *Dispatcher) dispatchSnapshotSync(cmd Command) error {
	leaderAddr := cmd.LeaderAddr
	if leaderAddr == "" {
		leaderAddr = d.HTTPAddr
	}
	if cmd.LeaderID != d.InstanceID {
		if err := d.Snapshot.FetchFromLeader(leaderAddr, cmd.FileName); err != nil {
			// Intentionally non-fatal: Restore will fail loudly below if the
			// file genuinely never arrived.
			metrics.SnapshotSyncFetchFailuresTotal.Inc()
			log.Logger.Warn().Err(err).Str("file", cmd.FileName).Msg("snapshot_sync fetch from leader failed")
		}
	}
	if err := d.Snapshot.Restore(cmd.FileName); err != nil {
		return err
	}
	d.IDs.Clean()
	return nil
}
