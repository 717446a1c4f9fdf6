package adapter

// defaultAdapter is the generic engagement tracker used for every site
// without a specialised variant.
type defaultAdapter struct {
	base
}

func newDefault(env Env) *defaultAdapter {
	return &defaultAdapter{base: newBase(env, string(VariantDefault), defaultMediaConfig())}
}
