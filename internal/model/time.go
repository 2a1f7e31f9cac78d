package model

import (
	"strconv"
	"time"
)

// LocalTime 以 "YYYY-MM-DD HH:MM:SS" (本地时区) 序列化对象存储的修改时间。
type LocalTime time.Time

const localTimeLayout = "2006-01-02 15:04:05"

// MarshalJSON 实现 json.Marshaler。零值输出空字符串。
func (t LocalTime) MarshalJSON() ([]byte, error) {
	tt := time.Time(t)
	if tt.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(strconv.Quote(tt.Local().Format(localTimeLayout))), nil
}

// UnmarshalJSON 实现 json.Unmarshaler，接受 MarshalJSON 的输出。
func (t *LocalTime) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return err
	}
	if s == "" {
		*t = LocalTime{}
		return nil
	}
	parsed, err := time.ParseInLocation(localTimeLayout, s, time.Local)
	if err != nil {
		return err
	}
	*t = LocalTime(parsed)
	return nil
}
