package merge

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/lherron/iatisync/internal/domain"
	"github.com/lherron/iatisync/internal/iati"
	"github.com/lherron/iatisync/internal/markers"
	"github.com/lherron/iatisync/internal/slug"
	"github.com/lherron/iatisync/internal/store"
)

// replaceValid validates rows and replaces the stored set with the valid
// ones. A non-empty set with no valid rows leaves the stored set alone.
func replaceValid[T any](ctx context.Context, group iati.Group, rows []T, write func(ctx context.Context, valid []T) (int, error)) *Outcome {
	o := newOutcome(group, len(rows))
	valid := make([]T, 0, len(rows))
	for i, row := range rows {
		if w, bad := invalidRow(group, i, row); bad {
			o.skip(w)
			continue
		}
		valid = append(valid, row)
	}
	if o.allSkipped() {
		return o.done()
	}

	n, err := write(ctx, valid)
	if err != nil {
		return o.fail(err)
	}
	o.Added = n
	return o.done()
}

func mergeSectors(ctx context.Context, env *Env, p *iati.Payload) *Outcome {
	return replaceValid(ctx, iati.GroupSectors, p.Sectors, func(ctx context.Context, valid []iati.Sector) (int, error) {
		return env.Store.Sectors.Replace(ctx, env.ActivityID, valid)
	})
}

func mergeLocations(ctx context.Context, env *Env, p *iati.Payload) *Outcome {
	return replaceValid(ctx, iati.GroupLocations, p.Locations, func(ctx context.Context, valid []iati.Location) (int, error) {
		return env.Store.Collections.ReplaceLocations(ctx, env.ActivityID, valid)
	})
}

func mergeHumanitarianScopes(ctx context.Context, env *Env, p *iati.Payload) *Outcome {
	return replaceValid(ctx, iati.GroupHumanitarianScope, p.HumanitarianScopes, func(ctx context.Context, valid []iati.HumanitarianScope) (int, error) {
		return env.Store.Collections.ReplaceHumanitarianScopes(ctx, env.ActivityID, valid)
	})
}

func mergeDocumentLinks(ctx context.Context, env *Env, p *iati.Payload) *Outcome {
	return replaceValid(ctx, iati.GroupDocumentLinks, p.DocumentLinks, func(ctx context.Context, valid []iati.DocumentLink) (int, error) {
		return env.Store.Collections.ReplaceDocumentLinks(ctx, env.ActivityID, valid)
	})
}

func mergeCountryBudgetItems(ctx context.Context, env *Env, p *iati.Payload) *Outcome {
	return replaceValid(ctx, iati.GroupCountryBudgetItems, p.CountryBudgetItems, func(ctx context.Context, valid []iati.CountryBudgetItems) (int, error) {
		return env.Store.Collections.ReplaceCountryBudgetItems(ctx, env.ActivityID, valid)
	})
}

func mergeContacts(ctx context.Context, env *Env, p *iati.Payload) *Outcome {
	return replaceValid(ctx, iati.GroupContacts, p.Contacts, func(ctx context.Context, valid []iati.Contact) (int, error) {
		return env.Store.Collections.ReplaceContacts(ctx, env.ActivityID, valid)
	})
}

// mergeTags replaces tag assignments. A tag without a code is keyed by a
// slug of its narrative.
func mergeTags(ctx context.Context, env *Env, p *iati.Payload) *Outcome {
	tags := make([]iati.Tag, len(p.Tags))
	copy(tags, p.Tags)
	for i := range tags {
		tags[i].Code = strings.TrimSpace(tags[i].Code)
		if tags[i].Code != "" {
			continue
		}
		if code, err := slug.Normalize(tags[i].Narrative); err == nil {
			tags[i].Code = code
		}
	}
	return replaceValid(ctx, iati.GroupTags, tags, func(ctx context.Context, valid []iati.Tag) (int, error) {
		return env.Store.Collections.ReplaceTags(ctx, env.ActivityID, valid)
	})
}

// mergeConditions replaces the conditions block. An absent block clears it.
func mergeConditions(ctx context.Context, env *Env, p *iati.Payload) *Outcome {
	if p.Conditions == nil {
		o := newOutcome(iati.GroupConditions, 0)
		if _, err := env.Store.Collections.ReplaceConditions(ctx, env.ActivityID, nil); err != nil {
			return o.fail(err)
		}
		return o.done()
	}

	in := p.Conditions
	o := newOutcome(iati.GroupConditions, len(in.Items))
	block := &iati.Conditions{Attached: in.Attached}
	for i, c := range in.Items {
		if w, bad := invalidRow(o.Group, i, c); bad {
			o.skip(w)
			continue
		}
		block.Items = append(block.Items, c)
	}
	if o.allSkipped() {
		return o.done()
	}

	n, err := env.Store.Collections.ReplaceConditions(ctx, env.ActivityID, block)
	if err != nil {
		return o.fail(err)
	}
	o.Added = n
	return o.done()
}

// mergeParticipatingOrgs upserts (organization, role) links. Links not in
// the payload are kept.
func mergeParticipatingOrgs(ctx context.Context, env *Env, p *iati.Payload) *Outcome {
	o := newOutcome(iati.GroupParticipatingOrgs, len(p.ParticipatingOrgs))

	links := make([]store.ParticipatingOrg, 0, len(p.ParticipatingOrgs))
	for i, po := range p.ParticipatingOrgs {
		if w, bad := invalidRow(o.Group, i, po); bad {
			o.skip(w)
			continue
		}
		ref := po.OrgRef()
		res, err := env.resolveOrg(ctx, o, &ref)
		if err != nil {
			o.skipErr(err)
			continue
		}
		links = append(links, store.ParticipatingOrg{
			OrganizationUUID: res.OrganizationID,
			Role:             po.Role,
			IATITypeCode:     po.Type,
			Narrative:        orgName(&ref, res),
			ActivityRef:      po.ActivityID,
		})
	}
	if len(links) == 0 {
		return o.done()
	}

	added, changed, err := env.Store.ParticipatingOrgs.Upsert(ctx, env.ActivityID, links)
	if err != nil {
		return o.fail(err)
	}
	o.Added, o.Changed = added, changed
	return o.done()
}

// mergePolicyMarkers replaces marker assignments. Unknown standard markers
// are skipped; custom markers are created on first use.
func mergePolicyMarkers(ctx context.Context, env *Env, p *iati.Payload) *Outcome {
	o := newOutcome(iati.GroupPolicyMarkers, len(p.PolicyMarkers))

	assignments := make([]store.MarkerAssignment, 0, len(p.PolicyMarkers))
	for i, pm := range p.PolicyMarkers {
		if w, bad := invalidRow(o.Group, i, pm); bad {
			o.skip(w)
			continue
		}
		significance := 0
		if pm.Significance != nil {
			significance = *pm.Significance
		}
		res, err := env.Markers.Resolve(ctx, markers.Input{
			Code:          pm.Code,
			Vocabulary:    pm.Vocabulary,
			VocabularyURI: pm.VocabularyURI,
			Significance:  significance,
		})
		if err != nil {
			o.skipErr(err)
			continue
		}
		if res.Clamped {
			o.warn(domain.Warning{
				Type: domain.CodeSignificanceOutOfRange,
				Message: fmt.Sprintf("significance %d for policy marker %s clamped to %d",
					significance, res.Marker.Code, res.Significance),
				Details: map[string]interface{}{
					"marker":    res.Marker.Code,
					"incoming":  significance,
					"clamped":   res.Significance,
					"max_value": res.Marker.MaxSignificance,
				},
			})
		}
		if res.Created {
			env.log().WithField("marker", res.Marker.Code).Info("custom policy marker created")
		}
		assignments = append(assignments, store.MarkerAssignment{
			MarkerUUID:   res.MarkerID,
			Significance: res.Significance,
			Rationale:    pm.Rationale,
		})
	}
	if o.allSkipped() {
		return o.done()
	}

	n, err := env.Store.PolicyMarkers.ReplaceAssignments(ctx, env.ActivityID, assignments)
	if err != nil {
		return o.fail(err)
	}
	o.Added = n
	return o.done()
}

// mergeRelatedActivities relinks related activities. Rows are written one
// at a time; a row that fails to write is skipped with a warning.
func mergeRelatedActivities(ctx context.Context, env *Env, p *iati.Payload) *Outcome {
	o := newOutcome(iati.GroupRelatedActivities, len(p.RelatedActivities))

	valid := make([]iati.RelatedActivity, 0, len(p.RelatedActivities))
	for i, ra := range p.RelatedActivities {
		if w, bad := invalidRow(o.Group, i, ra); bad {
			o.skip(w)
			continue
		}
		valid = append(valid, ra)
	}
	if o.allSkipped() {
		return o.done()
	}

	if err := env.Linker.Clear(ctx, env.ActivityID); err != nil {
		return o.fail(err)
	}
	for _, ra := range valid {
		link, err := env.Linker.Link(ctx, env.ActivityID, ra.Ref, ra.Type)
		if err != nil {
			w := domain.WrapError(domain.CodeRowWriteFailure,
				"related activity "+ra.Ref+" not linked", err).Warning()
			w.Details["group"] = string(o.Group)
			w.Details["ref"] = ra.Ref
			o.skip(w)
			continue
		}
		o.Added++
		env.log().WithFields(logrus.Fields{
			"related": ra.Ref,
			"kind":    link.Kind,
		}).Debug("related activity linked")
	}
	return o.done()
}
