package vintage

import (
	"fmt"
	"slices"

	"natality/internal/parser/fixedwidth"
)

// Layout is the byte-position table of one fixed-width file format. Span
// names are the lowercase raw source names the registry aliases refer to.
type Layout struct {
	Name  string
	Spans []fixedwidth.Span
}

// Span returns the span named source.
func (l Layout) Span(source string) (fixedwidth.Span, bool) {
	for _, s := range l.Spans {
		if s.Name == source {
			return s, true
		}
	}
	return fixedwidth.Span{}, false
}

// derive copies l under a new name, dropping and renaming spans. It is how a
// layout that reuses an older one records exactly what differs.
func (l Layout) derive(name string, drop []string, rename map[string]string) Layout {
	out := Layout{Name: name}
	for _, s := range l.Spans {
		if slices.Contains(drop, s.Name) {
			continue
		}
		if to, ok := rename[s.Name]; ok {
			s.Name = to
		}
		out.Spans = append(out.Spans, s)
	}
	return out
}

// layout2018 is the public-use natality layout introduced with the 2018
// file and reused unchanged through 2024.
var layout2018 = Layout{Name: "2018", Spans: []fixedwidth.Span{
	{Name: "dob_yy", Start: 8, End: 12},
	{Name: "dob_mm", Start: 12, End: 14},
	{Name: "bfacil", Start: 31, End: 32},
	{Name: "f_bfacil", Start: 32, End: 33},
	{Name: "mage_impflg", Start: 72, End: 73},
	{Name: "mage_repflg", Start: 73, End: 74},
	{Name: "mager", Start: 74, End: 76},
	{Name: "mager14", Start: 76, End: 78},
	{Name: "mager9", Start: 78, End: 79},
	{Name: "mbstate_rec", Start: 83, End: 84},
	{Name: "restatus", Start: 103, End: 104},
	{Name: "mrace31", Start: 104, End: 106},
	{Name: "mrace6", Start: 106, End: 107},
	{Name: "mrace15", Start: 107, End: 109},
	{Name: "mraceimp", Start: 110, End: 111},
	{Name: "mhispx", Start: 111, End: 112},
	{Name: "mhisp_r", Start: 114, End: 115},
	{Name: "f_mhisp", Start: 115, End: 116},
	{Name: "mracehisp", Start: 116, End: 117},
	{Name: "mar_p", Start: 118, End: 119},
	{Name: "dmar", Start: 119, End: 120},
	{Name: "mar_imp", Start: 120, End: 121},
	{Name: "f_mar_p", Start: 122, End: 123},
	{Name: "meduc", Start: 123, End: 124},
	{Name: "f_meduc", Start: 125, End: 126},
	{Name: "fagerpt_flg", Start: 141, End: 142},
	{Name: "fagecomb", Start: 146, End: 148},
	{Name: "fagerec11", Start: 148, End: 150},
	{Name: "frace31", Start: 150, End: 152},
	{Name: "frace6", Start: 152, End: 153},
	{Name: "frace15", Start: 153, End: 155},
	{Name: "fhispx", Start: 158, End: 159},
	{Name: "fhisp_r", Start: 159, End: 160},
	{Name: "f_fhisp", Start: 160, End: 161},
	{Name: "fracehisp", Start: 161, End: 162},
	{Name: "feduc", Start: 162, End: 163},
	{Name: "priorlive", Start: 170, End: 172},
	{Name: "priordead", Start: 172, End: 174},
	{Name: "priorterm", Start: 174, End: 176},
	{Name: "lbo_rec", Start: 178, End: 179},
	{Name: "tbo_rec", Start: 181, End: 182},
	{Name: "precare", Start: 223, End: 225},
	{Name: "f_mpcb", Start: 225, End: 226},
	{Name: "precare5", Start: 226, End: 227},
	{Name: "previs", Start: 237, End: 239},
	{Name: "previs_rec", Start: 241, End: 243},
	{Name: "f_tpcv", Start: 243, End: 244},
	{Name: "wic", Start: 250, End: 251},
	{Name: "f_wic", Start: 251, End: 252},
	{Name: "pay", Start: 434, End: 435},
	{Name: "pay_rec", Start: 435, End: 436},
	{Name: "f_pay", Start: 436, End: 437},
	{Name: "f_pay_rec", Start: 437, End: 438},
	{Name: "sex", Start: 474, End: 475},
	{Name: "imp_sex", Start: 475, End: 476},
	{Name: "ca_anen", Start: 536, End: 537},
	{Name: "ca_mnsb", Start: 537, End: 538},
	{Name: "ca_cchd", Start: 538, End: 539},
	{Name: "ca_cdh", Start: 539, End: 540},
	{Name: "omph", Start: 540, End: 541},
	{Name: "ca_gast", Start: 541, End: 542},
	{Name: "f_ca_anen", Start: 542, End: 543},
	{Name: "f_ca_menin", Start: 543, End: 544},
	{Name: "f_ca_heart", Start: 544, End: 545},
	{Name: "f_ca_hernia", Start: 545, End: 546},
	{Name: "f_ca_ompha", Start: 546, End: 547},
	{Name: "f_ca_gastro", Start: 547, End: 548},
	{Name: "ca_limb", Start: 548, End: 549},
	{Name: "ca_cleft", Start: 549, End: 550},
	{Name: "ca_clpal", Start: 550, End: 551},
	{Name: "ca_down", Start: 551, End: 552},
	{Name: "ca_disor", Start: 552, End: 553},
	{Name: "ca_hypo", Start: 553, End: 554},
	{Name: "f_ca_limb", Start: 554, End: 555},
	{Name: "f_ca_cleft", Start: 555, End: 556},
	{Name: "f_ca_clpal", Start: 556, End: 557},
	{Name: "f_ca_down", Start: 557, End: 558},
	{Name: "f_ca_disor", Start: 558, End: 559},
	{Name: "f_ca_hypo", Start: 559, End: 560},
	{Name: "no_congen", Start: 560, End: 561},
}}

// layout2014 is the 2014-2017 layout: the 2018 positions without the
// mother's detailed Hispanic origin, and with the Down syndrome item
// published as CA_DOWNS.
var layout2014 = layout2018.derive("2014",
	[]string{"mhispx"},
	map[string]string{"ca_down": "ca_downs"},
)

var layouts = map[string]Layout{
	layout2018.Name: layout2018,
	layout2014.Name: layout2014,
}

// LayoutByName returns a registered layout.
func LayoutByName(name string) (Layout, error) {
	l, ok := layouts[name]
	if !ok {
		return Layout{}, fmt.Errorf("vintage: unknown layout %q", name)
	}
	return l, nil
}
