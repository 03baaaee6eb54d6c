package models

import (
	"strings"
)

// INSEE region code of every department.
var departmentRegions = map[string]string{
	// Auvergne-Rhône-Alpes
	"01": "84", "03": "84", "07": "84", "15": "84", "26": "84", "38": "84",
	"42": "84", "43": "84", "63": "84", "69": "84", "73": "84", "74": "84",
	// Bourgogne-Franche-Comté
	"21": "27", "25": "27", "39": "27", "58": "27", "70": "27", "71": "27", "89": "27", "90": "27",
	// Bretagne
	"22": "53", "29": "53", "35": "53", "56": "53",
	// Centre-Val de Loire
	"18": "24", "28": "24", "36": "24", "37": "24", "41": "24", "45": "24",
	// Corse
	"2A": "94", "2B": "94",
	// Grand Est
	"08": "44", "10": "44", "51": "44", "52": "44", "54": "44",
	"55": "44", "57": "44", "67": "44", "68": "44", "88": "44",
	// Hauts-de-France
	"02": "32", "59": "32", "60": "32", "62": "32", "80": "32",
	// Île-de-France
	"75": "11", "77": "11", "78": "11", "91": "11", "92": "11", "93": "11", "94": "11", "95": "11",
	// Normandie
	"14": "28", "27": "28", "50": "28", "61": "28", "76": "28",
	// Nouvelle-Aquitaine
	"16": "75", "17": "75", "19": "75", "23": "75", "24": "75", "33": "75",
	"40": "75", "47": "75", "64": "75", "79": "75", "86": "75", "87": "75",
	// Occitanie
	"09": "76", "11": "76", "12": "76", "30": "76", "31": "76", "32": "76", "34": "76",
	"46": "76", "48": "76", "65": "76", "66": "76", "81": "76", "82": "76",
	// Pays de la Loire
	"44": "52", "49": "52", "53": "52", "72": "52", "85": "52",
	// Provence-Alpes-Côte d'Azur
	"04": "93", "05": "93", "06": "93", "13": "93", "83": "93", "84": "93",
	// Outre-mer
	"971": "01", "972": "02", "973": "03", "974": "04", "976": "06",
}

// RegionForDepartment returns the region of a known department code.
func RegionForDepartment(department string) (string, bool) {
	region, ok := departmentRegions[strings.ToUpper(strings.TrimSpace(department))]
	return region, ok
}

// DepartmentFromInseeCode derives the department from a commune INSEE code
// ("2A004" -> "2A", "97105" -> "971").
func DepartmentFromInseeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 5 {
		return ""
	}
	if strings.HasPrefix(code, "97") {
		return code[:3]
	}
	return code[:2]
}

// DepartmentFromPostalCode derives the department from a postal code. Corsican
// postal codes start with 20: 200xx and 201xx are Corse-du-Sud.
func DepartmentFromPostalCode(code string) string {
	code = strings.TrimSpace(code)
	if len(code) != 5 {
		return ""
	}
	switch {
	case strings.HasPrefix(code, "97"):
		return code[:3]
	case strings.HasPrefix(code, "200"), strings.HasPrefix(code, "201"):
		return "2A"
	case strings.HasPrefix(code, "20"):
		return "2B"
	}
	return code[:2]
}
