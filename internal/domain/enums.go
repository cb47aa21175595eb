package domain

var anchorNamespaces = []string{
	"email",
	"phone",
	"name",
	"address",
	"ip",
	"device_id",
	"account_id",
	"cookie_id",
	"advertising_id",
}

var scopes = []string{
	"delete_all",
	"suppress_email",
	"suppress_phone",
	"suppress_marketing",
	"suppress_sale",
	"suppress_profiling",
}

// Jurisdictions and EvidenceClasses are ordered: a value's index is its bit
// position in receipt bookkeeping fields. Append only.
var jurisdictions = []string{
	"US",
	"US-CA",
	"US-VA",
	"US-CO",
	"US-CT",
	"US-UT",
	"EU",
	"UK",
	"BR",
	"CA",
	"AU",
	"JP",
}

var legalBases = []string{
	"CCPA",
	"CPRA",
	"GDPR",
	"UK_GDPR",
	"LGPD",
	"PIPEDA",
	"VCDPA",
	"CPA",
	"CTDPA",
	"UCPA",
	"APPI",
	"PRIVACY_ACT",
}

var evidenceClasses = []string{
	"API_LOG",
	"DB_DELETE_PROOF",
	"KEY_DESTRUCTION",
	"TEE_QUOTE",
	"AUDITOR_STATEMENT",
}

func IsAnchorNamespace(v string) bool { return indexOf(anchorNamespaces, v) >= 0 }
func IsScope(v string) bool           { return indexOf(scopes, v) >= 0 }
func IsJurisdiction(v string) bool    { return indexOf(jurisdictions, v) >= 0 }
func IsLegalBasis(v string) bool      { return indexOf(legalBases, v) >= 0 }
func IsEvidenceClass(v string) bool   { return indexOf(evidenceClasses, v) >= 0 }

// JurisdictionBits returns the single-bit mask for a jurisdiction, or 0.
func JurisdictionBits(jurisdiction string) uint32 {
	idx := indexOf(jurisdictions, jurisdiction)
	if idx < 0 {
		return 0
	}
	return 1 << uint(idx)
}

// EvidenceClassBits ORs the masks of every recognised evidence class.
func EvidenceClassBits(classes []string) uint32 {
	var bits uint32
	for _, class := range classes {
		if idx := indexOf(evidenceClasses, class); idx >= 0 {
			bits |= 1 << uint(idx)
		}
	}
	return bits
}

func indexOf(values []string, v string) int {
	for i, candidate := range values {
		if candidate == v {
			return i
		}
	}
	return -1
}
