package classify

// docTypeRule maps keywords to a document type with a base confidence weight.
// Rules are ordered: on equal scores the earlier rule wins, which keeps
// classification deterministic.
type docTypeRule struct {
	Type     string
	Keywords []string
	Weight   float64
}

var docTypeRules = []docTypeRule{
	{
		Type: "PDS",
		Keywords: []string{
			"pds", "product disclosure", "product-disclosure", "productdisclosure",
			"combined fsg", "financial services guide",
		},
		Weight: 1.0,
	},
	{
		Type: "Policy Wording",
		Keywords: []string{
			"policy wording", "policy-wording", "policywording", "wording",
			"policy document", "policy schedule", "terms and conditions",
			"conditions of cover", "cover wording",
		},
		Weight: 0.9,
	},
	{
		Type: "Fact Sheet",
		Keywords: []string{
			"fact sheet", "fact-sheet", "factsheet", "key facts", "keyfacts",
			"key information", "summary of cover", "cover summary",
		},
		Weight: 0.85,
	},
	{
		Type: "TMD",
		Keywords: []string{
			"tmd", "target market", "target-market", "targetmarket",
			"target market determination",
		},
		Weight: 0.9,
	},
	{
		Type: "Product Guide",
		Keywords: []string{
			"product guide", "product-guide", "productguide", "guide",
			"brochure", "overview",
		},
		Weight: 0.7,
	},
	{
		Type: "Certificate of Insurance",
		Keywords: []string{
			"certificate of insurance", "certificate-of-insurance",
			"coi", "proof of insurance",
		},
		Weight: 0.85,
	},
	{
		Type: "Claim Form",
		Keywords: []string{
			"claim form", "claim-form", "claimform", "claims form",
			"make a claim", "lodge a claim",
		},
		Weight: 0.8,
	},
}

// policyTypeRule scores keyword hits to detect the insurance category
type policyTypeRule struct {
	Name     string
	Keywords []string
}

var policyTypeRules = []policyTypeRule{
	{
		Name: "Motor",
		Keywords: []string{
			"motor", "vehicle", "car", "auto", "comprehensive",
			"third party", "tpft", "third-party", "automotive",
		},
	},
	{
		Name: "Home",
		Keywords: []string{
			"home", "house", "property", "building", "dwelling",
			"homeowner", "home-owner", "residential",
		},
	},
	{
		Name: "Contents",
		Keywords: []string{
			"contents", "contents plus", "contents-plus", "personal belongings",
			"household contents", "valuables",
		},
	},
	{
		Name: "Landlord",
		Keywords: []string{
			"landlord", "rental", "rental property", "investment property",
			"landlords",
		},
	},
	{
		Name: "Travel",
		Keywords: []string{
			"travel", "trip", "overseas", "holiday", "international",
		},
	},
	{
		Name: "Life",
		Keywords: []string{
			"life", "lif", "living", "death", "tpd",
			"income protection", "trauma", "funeral",
		},
	},
	{
		Name: "Health",
		Keywords: []string{
			"health", "medical", "hospital", "dental", "optical",
			"surgical", "wellness",
		},
	},
	{
		Name: "Business",
		Keywords: []string{
			"business", "commercial", "liability", "sme",
			"professional indemnity", "public liability", "trade",
		},
	},
	{
		Name: "Pet",
		Keywords: []string{
			"pet", "dog", "cat", "animal", "puppy", "kitten",
			"pet insurance", "pet-insurance", "petinsurance",
			"veterinary", "veterinarian", "vet cover", "vet care",
			"vet insurance", "companion animal", "canine", "feline",
			"breed", "pedigree", "pet health", "pet care", "pet plan",
			"animal cover", "pet policy", "fur baby", "dog insurance",
			"cat insurance", "pet protection", "vet bill", "vet fees",
			"pet medical", "pet accident", "pet illness",
		},
	},
	{
		Name: "Marine",
		Keywords: []string{
			"marine", "boat", "watercraft", "yacht", "vessel",
		},
	},
}

// knownInsurer maps a domain substring to a display name. First match wins,
// so more specific patterns come before generic ones.
type knownInsurer struct {
	Pattern string
	Name    string
}

var knownInsurers = []knownInsurer{
	{"aainsurance", "AA Insurance"},
	{"aa-insurance", "AA Insurance"},
	{"ami", "AMI Insurance"},
	{"tower", "Tower Insurance"},
	{"state", "State Insurance"},
	{"aia", "AIA New Zealand"},
	{"southern-cross", "Southern Cross"},
	{"southerncross", "Southern Cross"},
	{"partners-life", "Partners Life"},
	{"partnerslife", "Partners Life"},
	{"nib", "nib Insurance"},
	{"fidelity", "Fidelity Life"},
	{"cigna", "Cigna Insurance"},
	{"asteron", "Asteron Life"},
	{"suncorp", "Suncorp"},
	{"iag", "IAG"},
	{"vero", "Vero Insurance"},
	{"chubb", "Chubb Insurance"},
	{"allianz", "Allianz"},
	{"zurich", "Zurich Insurance"},
	{"qbe", "QBE Insurance"},
	{"tmi", "TMI (The Mutual Insurance)"},
	{"initio", "Initio Insurance"},
	{"ando", "Ando Insurance"},
	{"youi", "Youi Insurance"},
	{"trade-me", "Trade Me Insurance"},
	{"trademe", "Trade Me Insurance"},
	{"pinnacle", "Pinnacle Life"},
	{"accuro", "Accuro Health Insurance"},
}
