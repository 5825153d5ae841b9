package snapshot

import (
	"sort"

	"panopticon/internal/repoerr"
)

// ListBranches transforms the snapshot's branch map into a stable
// ordered list: the default branch first, the remainder lexically by
// name. Pure transform; the branch data is already present from fetch
// time, so no network call happens here.
func ListBranches(s *Snapshot) ([]BranchInfo, error) {
	if s == nil {
		return nil, repoerr.New(repoerr.KindDataIntegrity, "snapshot.ListBranches", "nil snapshot")
	}
	if s.Branches == nil {
		// A well-formed snapshot always carries a branch map, even an
		// empty one; absence means an earlier fetch inconsistency.
		return nil, repoerr.New(repoerr.KindDataIntegrity, "snapshot.ListBranches",
			"snapshot of %s has no branch map", s.Ref.String())
	}

	out := make([]BranchInfo, 0, len(s.Branches))
	for name, head := range s.Branches {
		out = append(out, BranchInfo{
			Name:      name,
			Head:      head,
			IsDefault: name == s.DefaultBranch,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].Name < out[j].Name
	})

	return out, nil
}
