package file

import (
	"context"
	"sort"

	"github.com/flowzap/flowzap/pkg/models"
	"github.com/flowzap/flowzap/pkg/persistence"
)

const (
	flowsDir    = "flows"
	versionsDir = "versions"
)

// FlowRepository stores flow records as JSON documents.
type FlowRepository struct {
	persistence *Persistence
}

func (fr *FlowRepository) List(_ context.Context, organizationID string) ([]*models.Flow, error) {
	fr.persistence.mu.RLock()
	defer fr.persistence.mu.RUnlock()

	ids, err := fr.persistence.ids(flowsDir)
	if err != nil {
		return nil, err
	}

	flows := make([]*models.Flow, 0, len(ids))

	for _, id := range ids {
		flow := &models.Flow{}

		err := fr.persistence.read(flowsDir, id, flow, persistence.ErrFlowNotFound)
		if err != nil {
			return nil, err
		}

		if flow.DeletedAt != nil {
			continue
		}

		if organizationID != "" && flow.OrganizationID != organizationID {
			continue
		}

		flows = append(flows, flow)
	}

	sort.Slice(flows, func(i, j int) bool {
		return flows[i].CreatedAt.Before(flows[j].CreatedAt)
	})

	return flows, nil
}

func (fr *FlowRepository) GetByID(_ context.Context, id string) (*models.Flow, error) {
	fr.persistence.mu.RLock()
	defer fr.persistence.mu.RUnlock()

	flow := &models.Flow{}

	err := fr.persistence.read(flowsDir, id, flow, persistence.ErrFlowNotFound)
	if err != nil {
		return nil, err
	}

	if flow.DeletedAt != nil {
		return nil, persistence.ErrFlowNotFound
	}

	return flow, nil
}

func (fr *FlowRepository) Save(_ context.Context, flow *models.Flow) error {
	fr.persistence.mu.Lock()
	defer fr.persistence.mu.Unlock()

	return fr.persistence.write(flowsDir, flow.ID, flow)
}

// Delete soft-deletes the flow so its versions and audit trail stay
// readable through direct id lookups elsewhere.
func (fr *FlowRepository) Delete(ctx context.Context, id string) error {
	flow, err := fr.GetByID(ctx, id)
	if err != nil {
		return err
	}

	fr.persistence.mu.Lock()
	defer fr.persistence.mu.Unlock()

	now := nowUTC()
	flow.DeletedAt = &now
	flow.UpdatedAt = now

	return fr.persistence.write(flowsDir, flow.ID, flow)
}

// VersionRepository stores immutable flow version snapshots.
type VersionRepository struct {
	persistence *Persistence
}

func (vr *VersionRepository) ListByFlow(_ context.Context, flowID string) ([]*models.FlowVersion, error) {
	vr.persistence.mu.RLock()
	defer vr.persistence.mu.RUnlock()

	return vr.listByFlowLocked(flowID)
}

func (vr *VersionRepository) listByFlowLocked(flowID string) ([]*models.FlowVersion, error) {
	ids, err := vr.persistence.ids(versionsDir)
	if err != nil {
		return nil, err
	}

	versions := make([]*models.FlowVersion, 0)

	for _, id := range ids {
		version := &models.FlowVersion{}

		err := vr.persistence.read(versionsDir, id, version, persistence.ErrVersionNotFound)
		if err != nil {
			return nil, err
		}

		if version.FlowID == flowID {
			versions = append(versions, version)
		}
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].VersionNumber < versions[j].VersionNumber
	})

	return versions, nil
}

func (vr *VersionRepository) GetByID(_ context.Context, id string) (*models.FlowVersion, error) {
	vr.persistence.mu.RLock()
	defer vr.persistence.mu.RUnlock()

	version := &models.FlowVersion{}

	err := vr.persistence.read(versionsDir, id, version, persistence.ErrVersionNotFound)
	if err != nil {
		return nil, err
	}

	return version, nil
}

func (vr *VersionRepository) NextVersionNumber(ctx context.Context, flowID string) (int, error) {
	versions, err := vr.ListByFlow(ctx, flowID)
	if err != nil {
		return 0, err
	}

	next := 1
	for _, version := range versions {
		if version.VersionNumber >= next {
			next = version.VersionNumber + 1
		}
	}

	return next, nil
}

func (vr *VersionRepository) Save(_ context.Context, version *models.FlowVersion) error {
	vr.persistence.mu.Lock()
	defer vr.persistence.mu.Unlock()

	existing := &models.FlowVersion{}

	err := vr.persistence.read(versionsDir, version.ID, existing, persistence.ErrVersionNotFound)
	if err == nil {
		return persistence.ErrDuplicateVersion
	}

	return vr.persistence.write(versionsDir, version.ID, version)
}

// Activate swaps the active version under the store lock so readers never
// observe two active versions or a stale flow pointer.
func (vr *VersionRepository) Activate(_ context.Context, flowID, versionID string) error {
	vr.persistence.mu.Lock()
	defer vr.persistence.mu.Unlock()

	target := &models.FlowVersion{}

	err := vr.persistence.read(versionsDir, versionID, target, persistence.ErrVersionNotFound)
	if err != nil {
		return err
	}

	if target.FlowID != flowID {
		return persistence.ErrVersionNotFound
	}

	flow := &models.Flow{}

	err = vr.persistence.read(flowsDir, flowID, flow, persistence.ErrFlowNotFound)
	if err != nil {
		return err
	}

	versions, err := vr.listByFlowLocked(flowID)
	if err != nil {
		return err
	}

	for _, version := range versions {
		if version.IsActive && version.ID != versionID {
			version.IsActive = false

			err := vr.persistence.write(versionsDir, version.ID, version)
			if err != nil {
				return err
			}
		}
	}

	target.IsActive = true

	err = vr.persistence.write(versionsDir, target.ID, target)
	if err != nil {
		return err
	}

	flow.CurrentVersionID = target.ID
	flow.UpdatedAt = nowUTC()

	return vr.persistence.write(flowsDir, flow.ID, flow)
}

func (vr *VersionRepository) Active(ctx context.Context, flowID string) (*models.FlowVersion, error) {
	versions, err := vr.ListByFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}

	for _, version := range versions {
		if version.IsActive {
			return version, nil
		}
	}

	return nil, persistence.ErrNoActiveVersion
}
