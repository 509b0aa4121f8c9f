// Package extract turns a stream of parsed STEP records into domain
// elements and relationships. It runs in two phases: a single pass over
// the record stream that collects elements, property records, and
// relationship records, then a resolution phase that links record
// references to element global ids.
package extract

import (
	"errors"
	"io"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/bimgraph/bimgraph/engine/domain"
	"github.com/bimgraph/bimgraph/engine/step"
)

const defaultMaxDepth = 8

// Extractor accumulates one file's worth of records and resolves them
// into a Result. An Extractor is single-use and not safe for concurrent
// calls.
type Extractor struct {
	log      *slog.Logger
	fileID   string
	maxDepth int
}

func New(fileID string, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{log: log, fileID: fileID, maxDepth: defaultMaxDepth}
}

// MaxPropertyDepth bounds the recursive property resolution. Values
// below 1 are ignored.
func (x *Extractor) MaxPropertyDepth(d int) {
	if d >= 1 {
		x.maxDepth = d
	}
}

// defineRec is a parsed IFCRELDEFINESBYPROPERTIES: which elements a
// property definition applies to.
type defineRec struct {
	related  []int64
	relating int64
}

// relRecord is a relationship held as record references until all
// elements are known.
type relRecord struct {
	kind domain.RelKind
	guid string
	from int64
	to   int64
}

// Run consumes the reader to exhaustion and resolves the collected
// records. The reader's own skip counter is folded into the stats.
func (x *Extractor) Run(r *step.Reader) (*Result, error) {
	elements := make(map[int64]*domain.Element)
	props := make(map[int64]step.Record)
	var defines []defineRec
	var rels []relRecord
	var st Stats

	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		st.Records++

		if class, ok := canonicalClasses[rec.Type]; ok {
			elements[rec.ID] = x.newElement(rec, class, &st)
			continue
		}

		switch rec.Type {
		case "IFCPROPERTYSET", "IFCPROPERTYSINGLEVALUE", "IFCCOMPLEXPROPERTY",
			"IFCELEMENTQUANTITY", "IFCQUANTITYAREA", "IFCQUANTITYLENGTH",
			"IFCQUANTITYVOLUME", "IFCQUANTITYCOUNT", "IFCQUANTITYWEIGHT":
			props[rec.ID] = rec

		case "IFCRELDEFINESBYPROPERTIES":
			defines = append(defines, defineRec{
				related:  rec.RefsAt(4),
				relating: rec.RefAt(5),
			})

		case "IFCRELAGGREGATES":
			for _, to := range rec.RefsAt(5) {
				rels = append(rels, relRecord{
					kind: domain.RelAggregates,
					guid: rec.StrAt(0),
					from: rec.RefAt(4),
					to:   to,
				})
			}

		case "IFCRELCONNECTSELEMENTS", "IFCRELCONNECTSPATHELEMENTS":
			rels = append(rels, relRecord{
				kind: domain.RelConnects,
				guid: rec.StrAt(0),
				from: rec.RefAt(5),
				to:   rec.RefAt(6),
			})

		case "IFCRELCONTAINEDINSPATIALSTRUCTURE":
			for _, from := range rec.RefsAt(4) {
				rels = append(rels, relRecord{
					kind: domain.RelContainedIn,
					guid: rec.StrAt(0),
					from: from,
					to:   rec.RefAt(5),
				})
			}

		case "IFCRELASSIGNSTOGROUP":
			for _, from := range rec.RefsAt(4) {
				rels = append(rels, relRecord{
					kind: domain.RelAssignedTo,
					guid: rec.StrAt(0),
					from: from,
					to:   rec.RefAt(6),
				})
			}
		}
	}
	st.SkippedRecords = r.Skipped()

	x.resolveDefines(elements, props, defines, &st)

	out := &Result{Elements: make(map[string]domain.Element, len(elements))}
	guidByRec := make(map[int64]string, len(elements))
	for recID, el := range elements {
		guidByRec[recID] = el.GlobalID
		out.Elements[el.GlobalID] = *el
	}
	st.Elements = len(out.Elements)

	for _, rr := range rels {
		from, okFrom := guidByRec[rr.from]
		to, okTo := guidByRec[rr.to]
		if !okFrom || !okTo {
			st.Orphans++
			x.log.Debug("orphan relationship",
				"file", x.fileID, "kind", rr.kind,
				"fromRec", rr.from, "toRec", rr.to)
			continue
		}
		out.Relationships = append(out.Relationships, domain.Relationship{
			Kind:     rr.kind,
			GlobalID: rr.guid,
			FromID:   from,
			ToID:     to,
		})
	}
	st.Relationships = len(out.Relationships)

	out.Stats = st
	return out, nil
}

func (x *Extractor) newElement(rec step.Record, class string, st *Stats) *domain.Element {
	el := &domain.Element{
		GlobalID:     rec.StrAt(0),
		IfcClass:     class,
		Name:         rec.StrAt(2),
		Description:  rec.StrAt(3),
		ObjectType:   rec.StrAt(4),
		SourceFileID: x.fileID,
	}
	if !spatialClasses[rec.Type] {
		el.Tag = rec.StrAt(7)
	}
	// A malformed GlobalId is treated the same as a missing one: the id
	// is the node's merge key, so it must at least look like a real
	// compressed GUID to be trusted across files.
	if !domain.IsIfcGUID(el.GlobalID) {
		el.GlobalID = x.syntheticID(rec.ID)
		el.Synthetic = true
		st.SyntheticIDs++
		x.log.Warn("record missing or malformed global id, assigned synthetic",
			"file", x.fileID, "record", rec.ID, "class", class)
	}
	return el
}

// syntheticID derives a stable placeholder id from the file id and the
// record number, so re-imports of the same file produce the same id.
func (x *Extractor) syntheticID(recID int64) string {
	seed := x.fileID + "#" + strconv.FormatInt(recID, 10)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}
