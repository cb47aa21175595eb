package domain

type PolicyInput struct {
	Warrant      Warrant `json:"warrant"`
	WarrantHash  string  `json:"warrant_hash"`
	SignatureAlg string  `json:"signature_alg"`
}

type PolicyDeny struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type PolicyResult struct {
	Allow bool         `json:"allow"`
	Deny  []PolicyDeny `json:"deny,omitempty"`
}

type PolicyEvaluation struct {
	BundleHash string       `json:"bundle_hash"`
	Result     PolicyResult `json:"result"`
}
