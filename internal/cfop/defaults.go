package cfop

// DefaultGroups is the CFOP table used when no registry file is configured.
func DefaultGroups() []Group {
	return []Group{
		{Name: "COMBUSTÍVEIS E LUBRIFICANTES", Codes: []string{"5653", "5656", "6653", "6656", "7667"}},
		{Name: "CONSERTOS", Codes: []string{"5915", "5916", "6915", "6916"}},
		{Name: "DEMONSTRAÇÕES", Codes: []string{"5912", "5913", "6912", "6913"}},
		{Name: "DEVOLUÇÕES", Codes: []string{
			"5201", "5202", "5208", "5209", "5210", "5410", "5411", "5412", "5413",
			"5553", "5555", "5556", "5918", "5919", "6201", "6202", "6208", "6209",
			"6210", "6410", "6411", "6412", "6413", "6553", "6555", "6556", "6918",
			"6919", "7201", "7202", "7210", "7211", "7212",
		}},
		{Name: "ENERGIA ELÉTRICA", Codes: []string{
			"5153", "5207", "5251", "5252", "5253", "5254", "5255", "5256",
			"5257", "5258", "6153", "6207", "6251", "6252", "6253", "6254",
			"6255", "6256", "6257", "6258", "7207", "7251",
		}},
		{Name: "SERVIÇOS", Codes: []string{
			"5205", "5301", "5302", "5303", "5304", "5305", "5306", "5307", "5932",
			"5933", "6205", "6301", "6302", "6303", "6304", "6305", "6306", "6307",
			"6932", "6933", "7205", "7301",
		}},
		{Name: "TRANSPORTE", Codes: []string{
			"5206", "5351", "5352", "5353", "5354", "5355", "5356", "5357", "5359",
			"5360", "6206", "6351", "6352", "6353", "6354", "6355", "6356", "6357",
			"6359", "6360", "7206", "7358",
		}},
		{Name: "TRANSFERÊNCIAS", Codes: []string{
			"5151", "5152", "5155", "5156", "5408", "5409", "5552", "5557",
			"6151", "6152", "6155", "6156", "6408", "6409", "6552", "6557",
		}},
		{Name: "BONIFICAÇÕES E BRINDES", Codes: []string{"5910", "6910"}},
		{Name: "REMESSAS", Codes: []string{"5920", "6920"}},
		{Name: DefaultCatchAll, Codes: []string{"5601", "5602", "5605", "5929", "5949", "6929", "6949", "7949"}},
	}
}

// DefaultRegistry returns the registry built from DefaultGroups.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultGroups(), DefaultCatchAll)
	if err != nil {
		panic("cfop: default registry is invalid: " + err.Error())
	}
	return r
}
