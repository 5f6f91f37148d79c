package models

const (
	SettingAutoExtract = "autoExtract"
	SettingShowImages  = "showImages"
)

type Settings struct {
	AutoExtract bool `json:"autoExtract"`
	ShowImages  bool `json:"showImages"`
}

// InstallDefaults are written once when the store is first set up.
func InstallDefaults() Settings {
	return Settings{
		AutoExtract: true,
		ShowImages:  true,
	}
}

// SettingsFromMap applies read-time defaults for keys that were never written:
// autoExtract stays off and showImages stays on.
func SettingsFromMap(values map[string]bool) Settings {
	s := Settings{ShowImages: true}
	if v, ok := values[SettingAutoExtract]; ok {
		s.AutoExtract = v
	}
	if v, ok := values[SettingShowImages]; ok {
		s.ShowImages = v
	}
	return s
}

func (s Settings) Map() map[string]bool {
	return map[string]bool{
		SettingAutoExtract: s.AutoExtract,
		SettingShowImages:  s.ShowImages,
	}
}

func IsSettingKey(key string) bool {
	return key == SettingAutoExtract || key == SettingShowImages
}
