package engine

// exampleTable is the three-row table used throughout the tests:
//
//	USA,    2020, Phishing,   120.0
//	USA,    2021, Ransomware,  80.0
//	France, 2020, Phishing,    50.0
func exampleTable() Table {
	return NewStore([]Record{
		{Country: "USA", Year: 2020, AttackType: "Phishing", TargetIndustry: "Banking", FinancialLoss: 120, AffectedUsers: 1000, AttackSource: "Hacker Group", VulnerabilityType: "Weak Passwords", DefenseMechanism: "Firewall", ResolutionTime: 10},
		{Country: "USA", Year: 2021, AttackType: "Ransomware", TargetIndustry: "Healthcare", FinancialLoss: 80, AffectedUsers: 500, AttackSource: "Nation-state", VulnerabilityType: "Zero-day", DefenseMechanism: "VPN", ResolutionTime: 30},
		{Country: "France", Year: 2020, AttackType: "Phishing", TargetIndustry: "Banking", FinancialLoss: 50, AffectedUsers: 200, AttackSource: "Insider", VulnerabilityType: "Social Engineering", DefenseMechanism: "Firewall", ResolutionTime: 20},
	}).Table()
}

// wideTable spans 2015-2024 with a gap in 2018 and repeated categories.
func wideTable() Table {
	countries := []string{"USA", "France", "India", "Germany", "Brazil"}
	industries := []string{"Banking", "Retail", "IT", "Education"}
	attacks := []string{"Phishing", "DDoS", "Malware", "Ransomware", "SQL Injection"}
	var recs []Record
	for i := 0; i < 60; i++ {
		year := 2015 + i%10
		if year == 2018 {
			year = 2019
		}
		recs = append(recs, Record{
			Country:           countries[i%len(countries)],
			Year:              year,
			AttackType:        attacks[(i/2)%len(attacks)],
			TargetIndustry:    industries[(i/3)%len(industries)],
			FinancialLoss:     float64(i%17) * 3.7,
			AffectedUsers:     int64(i * 113),
			AttackSource:      "Unknown",
			VulnerabilityType: "Unpatched Software",
			DefenseMechanism:  "Antivirus",
			ResolutionTime:    float64(1 + i%50),
		})
	}
	return NewStore(recs).Table()
}

func tableRecords(t Table) []Record { return t.Records(0, -1) }
