package vmm

import (
	"context"
	"fmt"

	"github.com/buildkite/fcvmm/runtime"
)

// OwnershipKind selects which of VmmOwnershipModel's three shapes a jail's
// resources follow.
type OwnershipKind int

const (
	// OwnershipShared leaves host ownership of materialized resources
	// intact: the host and in-jail users are the same uid/gid, or the
	// caller otherwise guarantees both sides can already read the tree.
	OwnershipShared OwnershipKind = iota
	// OwnershipUpgraded chowns materialized resources to the in-jail
	// uid/gid so Firecracker (running dropped to that uid/gid) can read
	// and write them, but leaves the tree's permission bits otherwise
	// host-writable.
	OwnershipUpgraded
	// OwnershipUpgradedPermanently does everything OwnershipUpgraded does,
	// and additionally chmods the tree to remove host write access,
	// matching §4.6.2 step 1's "additionally chmod to remove host write".
	OwnershipUpgradedPermanently
)

// OwnershipModel dictates which side owns files a Jailed executor
// materializes: the host user, the in-jail user, or both transitively.
// Grounded on the VmmOwnershipModel enum in the specification; translated
// from original_source's four-variant Downgraded/UpgradedTemporarily model,
// which the specification's data model explicitly does not carry forward.
type OwnershipModel struct {
	Kind OwnershipKind
	UID  int
	GID  int
}

// Shared constructs the OwnershipShared model.
func Shared(uid, gid int) OwnershipModel {
	return OwnershipModel{Kind: OwnershipShared, UID: uid, GID: gid}
}

// Upgraded constructs the OwnershipUpgraded model.
func Upgraded(uid, gid int) OwnershipModel {
	return OwnershipModel{Kind: OwnershipUpgraded, UID: uid, GID: gid}
}

// UpgradedPermanently constructs the OwnershipUpgradedPermanently model.
func UpgradedPermanently(uid, gid int) OwnershipModel {
	return OwnershipModel{Kind: OwnershipUpgradedPermanently, UID: uid, GID: gid}
}

func (m OwnershipModel) upgrades() bool {
	return m.Kind == OwnershipUpgraded || m.Kind == OwnershipUpgradedPermanently
}

func (m OwnershipModel) String() string {
	switch m.Kind {
	case OwnershipShared:
		return fmt.Sprintf("shared(%d:%d)", m.UID, m.GID)
	case OwnershipUpgraded:
		return fmt.Sprintf("upgraded(%d:%d)", m.UID, m.GID)
	case OwnershipUpgradedPermanently:
		return fmt.Sprintf("upgraded-permanently(%d:%d)", m.UID, m.GID)
	default:
		return "unknown"
	}
}

// applyOwnership chowns path (recursively) to the model's uid/gid when the
// model calls for an upgrade, and for OwnershipUpgradedPermanently also
// strips host write permission, per §4.6.2 step 1. It is a no-op under
// OwnershipShared.
func applyOwnership(ctx context.Context, rt runtime.Runtime, path string, model OwnershipModel) error {
	if !model.upgrades() {
		return nil
	}
	if err := rt.FS().ChownAll(ctx, path, model.UID, model.GID); err != nil {
		return fmt.Errorf("vmm: chown %s to %s: %w", path, model, err)
	}
	if model.Kind == OwnershipUpgradedPermanently {
		if err := rt.FS().SetPermissions(ctx, path, 0o700); err != nil {
			return fmt.Errorf("vmm: chmod %s for %s: %w", path, model, err)
		}
	}
	return nil
}

// applyResourceOwnership chmods a single materialized resource per §4.6.2
// step 2's "chmod to at least 0o600 owner, broader if ownership demands
// (Shared forces group read)" and, when the model upgrades ownership,
// chowns it to the model's in-jail uid/gid.
func applyResourceOwnership(ctx context.Context, rt runtime.Runtime, path string, model OwnershipModel) error {
	mode := uint32(0o600)
	if model.Kind == OwnershipShared {
		mode = 0o640
	}
	if err := rt.FS().SetPermissions(ctx, path, fileModeFromUnix(mode)); err != nil {
		return fmt.Errorf("vmm: chmod resource %s: %w", path, err)
	}
	if model.upgrades() {
		if err := rt.FS().ChownAll(ctx, path, model.UID, model.GID); err != nil {
			return fmt.Errorf("vmm: chown resource %s to %s: %w", path, model, err)
		}
	}
	return nil
}
