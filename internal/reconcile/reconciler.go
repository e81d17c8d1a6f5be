package reconcile

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/miniman-dev/miniman/internal/docker"
	"github.com/miniman-dev/miniman/internal/model"
	"gorm.io/gorm"
)

// Summary counts what one reconciliation pass changed. A pass over an
// unchanged runtime yields all zeros.
type Summary struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Deleted  int `json:"deleted"`
}

func (s Summary) changed() bool {
	return s.Inserted+s.Updated+s.Deleted > 0
}

// Reconciler converges the database mirror of runtime resources with what
// the runtime actually reports. Each pass diffs first, then applies all
// writes in one transaction. Each resource kind has its own lock so two
// passes over the same kind serialize while different kinds proceed in
// parallel.
type Reconciler struct {
	db     *gorm.DB
	logger *slog.Logger

	containerMu sync.Mutex
	imageMu     sync.Mutex
	volumeMu    sync.Mutex
	networkMu   sync.Mutex
}

// New creates a Reconciler.
func New(db *gorm.DB, logger *slog.Logger) *Reconciler {
	return &Reconciler{db: db, logger: logger}
}

// Containers converges the container table with the given runtime listing.
// New containers are inserted, known ones updated in place (preserving the
// row identity and its stack link), and rows whose container no longer
// exists are deleted. The stack association is resolved from the compose
// project label, falling back to a stack name match.
func (r *Reconciler) Containers(listing []docker.ContainerInfo) (Summary, error) {
	r.containerMu.Lock()
	defer r.containerMu.Unlock()

	var summary Summary

	var stacks []model.Stack
	if err := r.db.Find(&stacks).Error; err != nil {
		return summary, err
	}
	stackByName := make(map[string]uint, len(stacks))
	for _, s := range stacks {
		stackByName[s.Name] = s.ID
	}

	var existing []model.Container
	if err := r.db.Find(&existing).Error; err != nil {
		return summary, err
	}
	byID := make(map[string]*model.Container, len(existing))
	for i := range existing {
		byID[existing[i].ContainerID] = &existing[i]
	}

	var inserts, updates []*model.Container
	seen := make(map[string]bool, len(listing))
	for _, info := range listing {
		seen[info.ID] = true
		stackID := resolveStack(info, stackByName)
		ports := encodePorts(info.Ports)

		if row, ok := byID[info.ID]; ok {
			if row.Name == info.Name && row.Image == info.Image &&
				row.Status == info.Status && row.Ports == ports &&
				equalStackID(row.StackID, stackID) {
				continue
			}
			row.Name = info.Name
			row.Image = info.Image
			row.Status = info.Status
			row.Ports = ports
			row.StackID = stackID
			updates = append(updates, row)
			continue
		}
		inserts = append(inserts, &model.Container{
			ContainerID: info.ID,
			Name:        info.Name,
			Image:       info.Image,
			Status:      info.Status,
			Ports:       ports,
			StackID:     stackID,
		})
	}

	var deletes []uint
	for _, row := range existing {
		if !seen[row.ContainerID] {
			deletes = append(deletes, row.ID)
		}
	}

	err := r.apply(func(tx *gorm.DB) error {
		for _, row := range inserts {
			if err := tx.Create(row).Error; err != nil {
				return err
			}
		}
		for _, row := range updates {
			if err := tx.Save(row).Error; err != nil {
				return err
			}
		}
		if len(deletes) > 0 {
			if err := tx.Delete(&model.Container{}, deletes).Error; err != nil {
				return err
			}
		}
		return nil
	}, len(inserts)+len(updates)+len(deletes))
	if err != nil {
		return summary, err
	}

	summary = Summary{Inserted: len(inserts), Updated: len(updates), Deleted: len(deletes)}
	r.log("containers", summary)
	return summary, nil
}

// Images converges the image table with the given runtime listing.
func (r *Reconciler) Images(listing []docker.ImageInfo) (Summary, error) {
	r.imageMu.Lock()
	defer r.imageMu.Unlock()

	var summary Summary

	var existing []model.Image
	if err := r.db.Find(&existing).Error; err != nil {
		return summary, err
	}
	byID := make(map[string]*model.Image, len(existing))
	for i := range existing {
		byID[existing[i].ImageID] = &existing[i]
	}

	var inserts, updates []*model.Image
	seen := make(map[string]bool, len(listing))
	for _, info := range listing {
		seen[info.ID] = true
		if row, ok := byID[info.ID]; ok {
			if row.Repository == info.Repository && row.Tag == info.Tag &&
				row.Size == info.Size && row.Created == info.Created {
				continue
			}
			row.Repository = info.Repository
			row.Tag = info.Tag
			row.Size = info.Size
			row.Created = info.Created
			updates = append(updates, row)
			continue
		}
		inserts = append(inserts, &model.Image{
			ImageID:    info.ID,
			Repository: info.Repository,
			Tag:        info.Tag,
			Size:       info.Size,
			Created:    info.Created,
		})
	}

	var deletes []uint
	for _, row := range existing {
		if !seen[row.ImageID] {
			deletes = append(deletes, row.ID)
		}
	}

	err := r.apply(func(tx *gorm.DB) error {
		for _, row := range inserts {
			if err := tx.Create(row).Error; err != nil {
				return err
			}
		}
		for _, row := range updates {
			if err := tx.Save(row).Error; err != nil {
				return err
			}
		}
		if len(deletes) > 0 {
			if err := tx.Delete(&model.Image{}, deletes).Error; err != nil {
				return err
			}
		}
		return nil
	}, len(inserts)+len(updates)+len(deletes))
	if err != nil {
		return summary, err
	}

	summary = Summary{Inserted: len(inserts), Updated: len(updates), Deleted: len(deletes)}
	r.log("images", summary)
	return summary, nil
}

// Volumes converges the volume table with the given runtime listing.
func (r *Reconciler) Volumes(listing []docker.VolumeInfo) (Summary, error) {
	r.volumeMu.Lock()
	defer r.volumeMu.Unlock()

	var summary Summary

	var existing []model.Volume
	if err := r.db.Find(&existing).Error; err != nil {
		return summary, err
	}
	byName := make(map[string]*model.Volume, len(existing))
	for i := range existing {
		byName[existing[i].VolumeName] = &existing[i]
	}

	var inserts, updates []*model.Volume
	seen := make(map[string]bool, len(listing))
	for _, info := range listing {
		seen[info.Name] = true
		if row, ok := byName[info.Name]; ok {
			if row.Driver == info.Driver && row.Mountpoint == info.Mountpoint &&
				row.Created == info.Created {
				continue
			}
			row.Driver = info.Driver
			row.Mountpoint = info.Mountpoint
			row.Created = info.Created
			updates = append(updates, row)
			continue
		}
		inserts = append(inserts, &model.Volume{
			VolumeName: info.Name,
			Driver:     info.Driver,
			Mountpoint: info.Mountpoint,
			Created:    info.Created,
		})
	}

	var deletes []uint
	for _, row := range existing {
		if !seen[row.VolumeName] {
			deletes = append(deletes, row.ID)
		}
	}

	err := r.apply(func(tx *gorm.DB) error {
		for _, row := range inserts {
			if err := tx.Create(row).Error; err != nil {
				return err
			}
		}
		for _, row := range updates {
			if err := tx.Save(row).Error; err != nil {
				return err
			}
		}
		if len(deletes) > 0 {
			if err := tx.Delete(&model.Volume{}, deletes).Error; err != nil {
				return err
			}
		}
		return nil
	}, len(inserts)+len(updates)+len(deletes))
	if err != nil {
		return summary, err
	}

	summary = Summary{Inserted: len(inserts), Updated: len(updates), Deleted: len(deletes)}
	r.log("volumes", summary)
	return summary, nil
}

// Networks converges the network table with the given runtime listing.
func (r *Reconciler) Networks(listing []docker.NetworkInfo) (Summary, error) {
	r.networkMu.Lock()
	defer r.networkMu.Unlock()

	var summary Summary

	var existing []model.Network
	if err := r.db.Find(&existing).Error; err != nil {
		return summary, err
	}
	byID := make(map[string]*model.Network, len(existing))
	for i := range existing {
		byID[existing[i].NetworkID] = &existing[i]
	}

	var inserts, updates []*model.Network
	seen := make(map[string]bool, len(listing))
	for _, info := range listing {
		seen[info.ID] = true
		if row, ok := byID[info.ID]; ok {
			if row.Name == info.Name && row.Driver == info.Driver &&
				row.Scope == info.Scope && row.Created == info.Created {
				continue
			}
			row.Name = info.Name
			row.Driver = info.Driver
			row.Scope = info.Scope
			row.Created = info.Created
			updates = append(updates, row)
			continue
		}
		inserts = append(inserts, &model.Network{
			NetworkID: info.ID,
			Name:      info.Name,
			Driver:    info.Driver,
			Scope:     info.Scope,
			Created:   info.Created,
		})
	}

	var deletes []uint
	for _, row := range existing {
		if !seen[row.NetworkID] {
			deletes = append(deletes, row.ID)
		}
	}

	err := r.apply(func(tx *gorm.DB) error {
		for _, row := range inserts {
			if err := tx.Create(row).Error; err != nil {
				return err
			}
		}
		for _, row := range updates {
			if err := tx.Save(row).Error; err != nil {
				return err
			}
		}
		if len(deletes) > 0 {
			if err := tx.Delete(&model.Network{}, deletes).Error; err != nil {
				return err
			}
		}
		return nil
	}, len(inserts)+len(updates)+len(deletes))
	if err != nil {
		return summary, err
	}

	summary = Summary{Inserted: len(inserts), Updated: len(updates), Deleted: len(deletes)}
	r.log("networks", summary)
	return summary, nil
}

// apply runs writes in a single transaction, skipping the transaction
// entirely for a no-op pass.
func (r *Reconciler) apply(writes func(tx *gorm.DB) error, total int) error {
	if total == 0 {
		return nil
	}
	return r.db.Transaction(writes)
}

func (r *Reconciler) log(kind string, s Summary) {
	if s.changed() {
		r.logger.Info("reconciled "+kind,
			"inserted", s.Inserted, "updated", s.Updated, "deleted", s.Deleted)
	}
}

// resolveStack maps a container to its owning stack. The compose project
// label is authoritative; a container name prefix match is the fallback for
// containers started before labels were recorded. When several stack names
// prefix the container name the longest one wins, so stack "blog-api" claims
// "blog-api-web-1" even when a stack "blog" also exists.
func resolveStack(info docker.ContainerInfo, stackByName map[string]uint) *uint {
	if info.Project != "" {
		if id, ok := stackByName[info.Project]; ok {
			return &id
		}
	}
	var best *uint
	bestLen := 0
	for name, id := range stackByName {
		if name != "" && len(name) > bestLen && hasProjectPrefix(info.Name, name) {
			matched := id
			best = &matched
			bestLen = len(name)
		}
	}
	return best
}

// hasProjectPrefix reports whether containerName follows the compose
// <project>-<service>-<index> naming convention for project.
func hasProjectPrefix(containerName, project string) bool {
	if len(containerName) <= len(project) {
		return false
	}
	if containerName[:len(project)] != project {
		return false
	}
	sep := containerName[len(project)]
	return sep == '-' || sep == '_'
}

func encodePorts(ports []model.PortMapping) string {
	if len(ports) == 0 {
		return ""
	}
	data, err := json.Marshal(ports)
	if err != nil {
		return ""
	}
	return string(data)
}

func equalStackID(a, b *uint) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
