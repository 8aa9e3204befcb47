package registry

import "natality/internal/frame"

// Source eras of the public-use natality files.
const (
	FirstYear = 1989
	LastYear  = 2024

	// 1989–2002: unrevised certificate, NBER-labelled exports.
	unrevisedFrom, unrevisedTo = 1989, 2002
	// 2003–2013: revised/unrevised transition, NBER-labelled exports.
	transitionFrom, transitionTo = 2003, 2013
	// 2014 onward: fixed-width public-use files.
	fixedFrom, fixedTo = 2014, LastYear
)

var (
	yesNoUnknown  = []string{"Y", "N", "U"}
	downStatus    = []string{"C", "P", "N", "U"}
	paternityAckd = []string{"Y", "N", "U", "X"}
	maritalStatus = []string{"1", "2"}
	infantSex     = []string{"M", "F"}
)

func span(from, to int, source string) Alias {
	return Alias{From: from, To: to, Source: source}
}

func unrevised(source string) Alias  { return span(unrevisedFrom, unrevisedTo, source) }
func transition(source string) Alias { return span(transitionFrom, transitionTo, source) }
func fixed(source string) Alias      { return span(fixedFrom, fixedTo, source) }

func u8(name string, lo, hi float64, desc string, aliases ...Alias) Field {
	return Field{Name: name, Type: frame.Uint8, Range: &Range{Min: lo, Max: hi}, Description: desc, Aliases: aliases}
}

func u16(name string, lo, hi float64, desc string, aliases ...Alias) Field {
	return Field{Name: name, Type: frame.Uint16, Range: &Range{Min: lo, Max: hi}, Description: desc, Aliases: aliases}
}

func cat(name string, domain []string, desc string, aliases ...Alias) Field {
	return Field{Name: name, Type: frame.Category, Categories: domain, Description: desc, Aliases: aliases}
}

func text(name, desc string, aliases ...Alias) Field {
	return Field{Name: name, Type: frame.String, Description: desc, Aliases: aliases}
}

// flag is a 0/1 reporting flag of the 2014+ files.
func flag(name, desc string) Field {
	return u8(name, 0, 1, desc, fixed(name))
}

// catalog lists every canonical field. Order is the declared column order of
// a normalized vintage.
func catalog() []Field {
	return []Field{
		// Date and place of birth.
		u16("datayear", 1989, 2100, "Data year", unrevised("datayear")),
		u16("biryr", 1989, 2100, "Birth year", unrevised("biryr")),
		u16("dob_yy", 1989, 2100, "Birth year", span(transitionFrom, fixedTo, "dob_yy")),
		u8("dob_mm", 1, 12, "Birth month", unrevised("birmon"), span(transitionFrom, fixedTo, "dob_mm")),
		u8("dob_wk", 1, 7, "Birth day of week", unrevised("weekday"), transition("dob_wk")),
		u8("bfacil", 1, 9, "Birth place", span(transitionFrom, fixedTo, "bfacil")),
		flag("f_bfacil", "Reporting flag for birth place"),

		// Maternal age.
		u8("dmage", 10, 54, "Mother's age, unrevised", unrevised("dmage")),
		u8("mager41", 1, 41, "Mother's age recode 41 (01 = under 15, 41 = 54)", span(2003, 2003, "mager41")),
		u8("mager", 12, 50, "Mother's single years of age", span(2004, fixedTo, "mager")),
		u8("mager14", 1, 14, "Mother's age recode 14", span(transitionFrom, fixedTo, "mager14")),
		u8("mager9", 1, 9, "Mother's age recode 9", span(transitionFrom, fixedTo, "mager9")),
		flag("mage_impflg", "Mother's age imputed"),
		flag("mage_repflg", "Reported age of mother used"),

		// Residence and nativity.
		u8("mbstate_rec", 1, 3, "Mother's nativity", span(transitionFrom, fixedTo, "mbstate_rec")),
		u8("restatus", 1, 4, "Residence status", span(unrevisedFrom, fixedTo, "restatus")),

		// Mother's race.
		u8("mrace", 1, 78, "Mother's race, unrevised detail", unrevised("mrace")),
		u8("mbrace", 1, 24, "Mother's bridged race", transition("mbrace")),
		u8("mracerec", 1, 4, "Mother's race recode 4", transition("mracerec")),
		u8("mrace31", 1, 31, "Mother's race recode 31", fixed("mrace31")),
		u8("mrace6", 1, 6, "Mother's race recode 6", fixed("mrace6")),
		u8("mrace15", 1, 15, "Mother's race recode 15", fixed("mrace15")),
		u8("mraceimp", 1, 2, "Mother's race imputed flag", fixed("mraceimp")),

		// Mother's Hispanic origin.
		u8("ormoth", 0, 9, "Mother's Hispanic origin, unrevised", unrevised("ormoth")),
		u8("orracem", 1, 9, "Mother's Hispanic origin and race recode, unrevised", unrevised("orracem")),
		u8("umhisp", 0, 9, "Mother's Hispanic origin, unrevised certificate", transition("umhisp")),
		u8("mhisp_r", 0, 9, "Mother's Hispanic origin recode", span(2009, fixedTo, "mhisp_r")),
		u8("mhispx", 0, 9, "Mother's Hispanic origin", span(2018, fixedTo, "mhispx")),
		flag("f_mhisp", "Reporting flag for mother's Hispanic origin"),
		u8("mracehisp", 1, 8, "Mother's race/Hispanic origin", fixed("mracehisp")),

		// Marital status and education.
		cat("dmar", maritalStatus, "Marital status", span(unrevisedFrom, fixedTo, "dmar")),
		cat("mar_p", paternityAckd, "Paternity acknowledged", fixed("mar_p")),
		text("mar_imp", "Mother's marital status imputed", fixed("mar_imp")),
		flag("f_mar_p", "Reporting flag for paternity acknowledged"),
		u8("dmeduc", 0, 17, "Mother's years of education, unrevised", unrevised("dmeduc")),
		u8("meduc", 1, 9, "Mother's education", span(transitionFrom, fixedTo, "meduc")),
		flag("f_meduc", "Reporting flag for education of mother"),

		// Father.
		u8("dfage", 10, 98, "Father's age, unrevised", unrevised("dfage")),
		u8("fagecomb", 9, 98, "Father's combined age", span(transitionFrom, fixedTo, "fagecomb")),
		u8("fagerec11", 1, 11, "Father's age recode 11", span(transitionFrom, fixedTo, "fagerec11")),
		text("fagerpt_flg", "Father's reported age used", fixed("fagerpt_flg")),
		u8("frace", 1, 78, "Father's race, unrevised detail", unrevised("frace")),
		u8("fracerec", 1, 4, "Father's race recode 4", transition("fracerec")),
		u8("frace31", 1, 99, "Father's race recode 31", fixed("frace31")),
		u8("frace6", 1, 9, "Father's race recode 6", fixed("frace6")),
		u8("frace15", 1, 99, "Father's race recode 15", fixed("frace15")),
		u8("orfath", 0, 9, "Father's Hispanic origin, unrevised", unrevised("orfath")),
		u8("ufhisp", 0, 9, "Father's Hispanic origin, unrevised certificate", transition("ufhisp")),
		u8("fhispx", 0, 9, "Father's Hispanic origin", span(2018, fixedTo, "fhispx")),
		u8("fhisp_r", 0, 9, "Father's Hispanic origin recode", fixed("fhisp_r")),
		flag("f_fhisp", "Reporting flag for father's Hispanic origin"),
		u8("fracehisp", 1, 9, "Father's race/Hispanic origin", fixed("fracehisp")),
		u8("feduc", 1, 9, "Father's education", fixed("feduc")),

		// Pregnancy history.
		u8("priorlive", 0, 98, "Number of previous live births", fixed("priorlive")),
		u8("priordead", 0, 98, "Number of previous other pregnancy outcomes", fixed("priordead")),
		u8("priorterm", 0, 98, "Number of previous terminations", fixed("priorterm")),
		u8("lbo_rec", 1, 9, "Live birth order recode", unrevised("livord9"), span(transitionFrom, fixedTo, "lbo_rec")),
		u8("tbo_rec", 1, 9, "Total birth order recode", unrevised("totord9"), span(transitionFrom, fixedTo, "tbo_rec")),

		// Prenatal care.
		u8("precare", 0, 10, "Month prenatal care began", span(transitionFrom, fixedTo, "precare")),
		flag("f_mpcb", "Reporting flag for month prenatal care began"),
		u8("precare5", 1, 5, "Month prenatal care began recode", fixed("precare5")),
		u8("previs", 0, 98, "Number of prenatal visits", unrevised("nprevis"), span(transitionFrom, fixedTo, "previs")),
		u8("previs_rec", 1, 12, "Number of prenatal visits recode", fixed("previs_rec")),
		flag("f_tpcv", "Reporting flag for total prenatal care visits"),
		cat("wic", yesNoUnknown, "WIC", fixed("wic")),
		flag("f_wic", "Reporting flag for WIC"),

		// Payment.
		u8("pay", 1, 9, "Payment source for delivery", fixed("pay")),
		u8("pay_rec", 1, 9, "Payment recode", fixed("pay_rec")),
		flag("f_pay", "Reporting flag for source of payment"),
		flag("f_pay_rec", "Reporting flag for payment recode"),

		// Infant.
		cat("sex", infantSex, "Sex of infant",
			Alias{From: unrevisedFrom, To: unrevisedTo, Source: "csex", Recode: map[string]string{"1": "M", "2": "F"}},
			span(transitionFrom, fixedTo, "sex")),
		u8("imp_sex", 0, 1, "Imputed sex", fixed("imp_sex")),
		u8("dplural", 1, 5, "Plurality", span(unrevisedFrom, transitionTo, "dplural")),
		u16("dbwt", 100, 8165, "Birth weight in grams", unrevised("dbirwt"), transition("dbwt")),
		u8("apgar5", 0, 10, "Five minute APGAR score", unrevised("fmaps"), transition("apgar5")),
		u8("gestrec10", 1, 10, "Gestation recode 10", transition("gestrec10")),

		// Congenital anomalies.
		cat("ca_anen", yesNoUnknown, "Anencephaly", fixed("ca_anen")),
		cat("ca_mnsb", yesNoUnknown, "Meningomyelocele / spina bifida", fixed("ca_mnsb")),
		cat("ca_cchd", yesNoUnknown, "Cyanotic congenital heart disease", fixed("ca_cchd")),
		cat("ca_cdh", yesNoUnknown, "Congenital diaphragmatic hernia", fixed("ca_cdh")),
		cat("ca_omph", yesNoUnknown, "Omphalocele", fixed("omph")),
		cat("ca_gast", yesNoUnknown, "Gastroschisis", fixed("ca_gast")),
		cat("ca_limb", yesNoUnknown, "Limb reduction defect", fixed("ca_limb")),
		cat("ca_cleft", yesNoUnknown, "Cleft lip with or without cleft palate", fixed("ca_cleft")),
		cat("ca_clpal", yesNoUnknown, "Cleft palate alone", fixed("ca_clpal")),
		cat("ca_down", downStatus, "Down syndrome (confirmed, pending, negative, unknown)",
			span(2004, 2011, "ca_down"),
			span(2012, 2017, "ca_downs"),
			span(2018, fixedTo, "ca_down")),
		cat("ca_disor", downStatus, "Suspected chromosomal disorder", fixed("ca_disor")),
		cat("ca_hypo", yesNoUnknown, "Hypospadias", fixed("ca_hypo")),
		u8("uca_downs", 1, 9, "Down syndrome, unrevised 2003 coding (1 yes, 2 no, 9 unknown)", span(2003, 2003, "uca_downs")),
		u8("downs", 1, 9, "Down syndrome, unrevised coding (1 yes, 2 no, 8 not on certificate, 9 unknown)", unrevised("downs")),
		flag("f_ca_anen", "Reporting flag for anencephaly"),
		flag("f_ca_menin", "Reporting flag for meningomyelocele/spina bifida"),
		flag("f_ca_heart", "Reporting flag for cyanotic congenital heart disease"),
		flag("f_ca_hernia", "Reporting flag for congenital diaphragmatic hernia"),
		flag("f_ca_ompha", "Reporting flag for omphalocele"),
		flag("f_ca_gastro", "Reporting flag for gastroschisis"),
		flag("f_ca_limb", "Reporting flag for limb reduction defect"),
		flag("f_ca_cleft", "Reporting flag for cleft lip"),
		flag("f_ca_clpal", "Reporting flag for cleft palate alone"),
		flag("f_ca_down", "Reporting flag for Down syndrome"),
		flag("f_ca_disor", "Reporting flag for suspected chromosomal disorder"),
		flag("f_ca_hypo", "Reporting flag for hypospadias"),
		flag("no_congen", "No congenital anomalies checked"),
	}
}
