package services

// tldCountries maps country-code TLDs to ISO-3166 alpha-2 codes
var tldCountries = map[string]string{
	"ac": "SH", "ae": "AE", "af": "AF", "al": "AL", "am": "AM", "ar": "AR",
	"at": "AT", "au": "AU", "az": "AZ", "ba": "BA", "bd": "BD", "be": "BE",
	"bg": "BG", "bh": "BH", "br": "BR", "by": "BY", "ca": "CA", "ch": "CH",
	"cl": "CL", "cn": "CN", "co": "CO", "cz": "CZ", "de": "DE", "dk": "DK",
	"dz": "DZ", "ee": "EE", "eg": "EG", "es": "ES", "fi": "FI", "fr": "FR",
	"ge": "GE", "gr": "GR", "hk": "HK", "hr": "HR", "hu": "HU", "id": "ID",
	"ie": "IE", "il": "IL", "in": "IN", "iq": "IQ", "ir": "IR", "is": "IS",
	"it": "IT", "jp": "JP", "ke": "KE", "kg": "KG", "kp": "KP", "kr": "KR",
	"kz": "KZ", "lt": "LT", "lu": "LU", "lv": "LV", "ma": "MA", "md": "MD",
	"mx": "MX", "my": "MY", "ng": "NG", "nl": "NL", "no": "NO", "nz": "NZ",
	"pa": "PA", "pe": "PE", "ph": "PH", "pk": "PK", "pl": "PL", "pt": "PT",
	"ro": "RO", "rs": "RS", "ru": "RU", "sa": "SA", "se": "SE", "sg": "SG",
	"si": "SI", "sk": "SK", "sy": "SY", "th": "TH", "tj": "TJ", "tm": "TM",
	"tr": "TR", "tw": "TW", "ua": "UA", "uk": "GB", "us": "US", "uz": "UZ",
	"ve": "VE", "vn": "VN", "za": "ZA", "su": "RU",
}

// compositeTLDs are second-level registrations checked before the plain TLD
var compositeTLDs = map[string]string{
	"co.uk":  "GB",
	"org.uk": "GB",
	"ac.uk":  "GB",
	"gov.uk": "GB",
	"com.au": "AU",
	"net.au": "AU",
	"org.au": "AU",
	"co.jp":  "JP",
	"ne.jp":  "JP",
	"com.br": "BR",
	"net.br": "BR",
	"com.cn": "CN",
	"net.cn": "CN",
	"org.cn": "CN",
	"co.in":  "IN",
	"co.kr":  "KR",
	"or.kr":  "KR",
	"com.tr": "TR",
	"co.za":  "ZA",
	"com.mx": "MX",
	"com.ru": "RU",
	"org.ru": "RU",
	"com.ua": "UA",
	"co.il":  "IL",
	"com.sg": "SG",
	"com.hk": "HK",
	"com.tw": "TW",
	"co.nz":  "NZ",
	"com.ar": "AR",
	"com.pk": "PK",
	"co.id":  "ID",
	"com.vn": "VN",
}

// rawCountryKeys are generic country fields feeds attach to any record
var rawCountryKeys = []string{"country_code", "country", "geo_country", "cc"}

// ipCountryKeys are provider-specific fields found on IP records
var ipCountryKeys = []string{"countryCode", "ip_country", "asn_country", "origin_country"}

// ThreatActor is one entry of the attribution table
type ThreatActor struct {
	Name            string
	Aliases         []string
	Tags            []string
	Countries       []string
	PulseKeywords   []string
	MalwareFamilies []string
}

// threatActors lists known groups and the signals that identify them
var threatActors = []ThreatActor{
	{
		Name:            "APT28",
		Aliases:         []string{"Fancy Bear", "Sofacy", "Sednit"},
		Tags:            []string{"apt28", "fancy-bear", "sofacy", "sednit"},
		PulseKeywords:   []string{"apt28", "fancy bear", "sofacy"},
		MalwareFamilies: []string{"x-agent", "xagent", "zebrocy", "drovorub"},
	},
	{
		Name:            "APT29",
		Aliases:         []string{"Cozy Bear", "Nobelium", "Midnight Blizzard"},
		Tags:            []string{"apt29", "cozy-bear", "nobelium"},
		PulseKeywords:   []string{"apt29", "cozy bear", "nobelium", "solarwinds"},
		MalwareFamilies: []string{"sunburst", "wellmess", "cobaltstrike-apt29"},
	},
	{
		Name:            "Lazarus Group",
		Aliases:         []string{"Hidden Cobra", "APT38"},
		Tags:            []string{"lazarus", "hidden-cobra", "apt38"},
		Countries:       []string{"KP"},
		PulseKeywords:   []string{"lazarus", "hidden cobra"},
		MalwareFamilies: []string{"appleseed", "manuscrypt", "wannacry"},
	},
	{
		Name:            "APT41",
		Aliases:         []string{"Winnti", "Barium", "Double Dragon"},
		Tags:            []string{"apt41", "winnti", "barium"},
		PulseKeywords:   []string{"apt41", "winnti"},
		MalwareFamilies: []string{"shadowpad", "plugx", "winnti"},
	},
	{
		Name:            "Charming Kitten",
		Aliases:         []string{"APT35", "Phosphorus"},
		Tags:            []string{"apt35", "charming-kitten", "phosphorus"},
		Countries:       []string{"IR"},
		PulseKeywords:   []string{"charming kitten", "apt35", "phosphorus"},
		MalwareFamilies: []string{"powerless", "hyperscrape"},
	},
	{
		Name:            "FIN7",
		Aliases:         []string{"Carbanak"},
		Tags:            []string{"fin7", "carbanak"},
		PulseKeywords:   []string{"fin7", "carbanak"},
		MalwareFamilies: []string{"carbanak", "griffon", "lizar"},
	},
	{
		Name:            "TA505",
		Aliases:         []string{"Evil Corp affiliate"},
		Tags:            []string{"ta505"},
		PulseKeywords:   []string{"ta505"},
		MalwareFamilies: []string{"dridex", "clop", "flawedammyy"},
	},
	{
		Name:            "TA542",
		Aliases:         []string{"Mummy Spider"},
		Tags:            []string{"ta542", "emotet", "mummy-spider"},
		PulseKeywords:   []string{"emotet", "ta542"},
		MalwareFamilies: []string{"emotet"},
	},
	{
		Name:            "Wizard Spider",
		Aliases:         []string{"UNC1878"},
		Tags:            []string{"wizard-spider", "trickbot", "conti"},
		PulseKeywords:   []string{"wizard spider", "trickbot", "conti"},
		MalwareFamilies: []string{"trickbot", "conti", "ryuk", "bazarloader"},
	},
	{
		Name:            "Sandworm",
		Aliases:         []string{"Voodoo Bear", "Seashell Blizzard"},
		Tags:            []string{"sandworm", "voodoo-bear"},
		PulseKeywords:   []string{"sandworm", "industroyer"},
		MalwareFamilies: []string{"industroyer", "notpetya", "cyclops-blink"},
	},
}
