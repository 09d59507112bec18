package plugin

import "strings"

// Kind tags one type of workflow step.
type Kind string

const (
	KindHTTPHarvest        Kind = "HTTP_HARVEST"
	KindOAIPMHHarvest      Kind = "OAIPMH_HARVEST"
	KindValidationExternal Kind = "VALIDATION_EXTERNAL"
	KindTransformation     Kind = "TRANSFORMATION"
	KindValidationInternal Kind = "VALIDATION_INTERNAL"
	KindNormalization      Kind = "NORMALIZATION"
	KindEnrichment         Kind = "ENRICHMENT"
	KindMediaProcess       Kind = "MEDIA_PROCESS"
	KindLinkChecking       Kind = "LINK_CHECKING"
	KindPreview            Kind = "PREVIEW"
	KindPublish            Kind = "PUBLISH"
	KindDepublish          Kind = "DEPUBLISH"
)

// Group is a descriptive classification of step kinds.
type Group string

const (
	GroupHarvest    Group = "harvest"
	GroupValidation Group = "validation"
	GroupProcessing Group = "processing"
	GroupIndex      Group = "index"
)

// StepKind is the immutable description of a kind.
type StepKind struct {
	Name      Kind
	Group     Group
	OrderHint int
}

var catalog = []StepKind{
	{Name: KindHTTPHarvest, Group: GroupHarvest, OrderHint: 10},
	{Name: KindOAIPMHHarvest, Group: GroupHarvest, OrderHint: 10},
	{Name: KindValidationExternal, Group: GroupValidation, OrderHint: 20},
	{Name: KindTransformation, Group: GroupProcessing, OrderHint: 30},
	{Name: KindValidationInternal, Group: GroupValidation, OrderHint: 40},
	{Name: KindNormalization, Group: GroupProcessing, OrderHint: 50},
	{Name: KindEnrichment, Group: GroupProcessing, OrderHint: 60},
	{Name: KindMediaProcess, Group: GroupProcessing, OrderHint: 70},
	{Name: KindLinkChecking, Group: GroupProcessing, OrderHint: 70},
	{Name: KindPreview, Group: GroupIndex, OrderHint: 80},
	{Name: KindPublish, Group: GroupIndex, OrderHint: 90},
	{Name: KindDepublish, Group: GroupIndex, OrderHint: 100},
}

var byName = func() map[Kind]StepKind {
	m := make(map[Kind]StepKind, len(catalog))
	for _, k := range catalog {
		m[k.Name] = k
	}
	return m
}()

// ParseKind decodes a kind tag. Matching ignores case and surrounding space.
func ParseKind(value string) (Kind, bool) {
	kind := Kind(strings.ToUpper(strings.TrimSpace(value)))
	if _, ok := byName[kind]; !ok {
		return "", false
	}
	return kind, true
}

// Valid reports whether k belongs to the closed set.
func (k Kind) Valid() bool {
	_, ok := byName[k]
	return ok
}

func (k Kind) String() string { return string(k) }

// Describe returns the static description of k. Unknown kinds yield a zero
// StepKind carrying only the name.
func Describe(k Kind) StepKind {
	if desc, ok := byName[k]; ok {
		return desc
	}
	return StepKind{Name: k}
}

// Kinds lists every known kind in catalog order.
func Kinds() []Kind {
	out := make([]Kind, len(catalog))
	for i, k := range catalog {
		out[i] = k.Name
	}
	return out
}
