package pgclient

import "gopkg.in/ini.v1"

// LoadProfiles reads a profiles file mapping a profile name to a connection
// URL, one INI section per profile:
//
//	[staging]
//	dsn = postgres://app@staging-db:5432/app?sslmode=require
//
//	[local]
//	dsn = postgres://app@localhost/app
//
// Sections without a "dsn" key are skipped.
func LoadProfiles(path string) (map[string]string, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	profiles := make(map[string]string)
	for _, sec := range f.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		if !sec.HasKey("dsn") {
			continue
		}
		profiles[sec.Name()] = sec.Key("dsn").String()
	}
	return profiles, nil
}
