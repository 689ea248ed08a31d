package columnar

import (
	"strconv"
	"strings"
	"time"
)

const (
	microsPerSecond = int64(1_000_000)
	microsPerMinute = 60 * microsPerSecond
	microsPerHour   = 60 * microsPerMinute
	microsPerDay    = 24 * microsPerHour
)

// parseTimezone splits a trailing timezone designator off a lexical form.
func parseTimezone(lex string) (rest string, offset int16, hasTZ bool, ok bool) {
	if strings.HasSuffix(lex, "Z") {
		return lex[:len(lex)-1], 0, true, true
	}
	if len(lex) >= 6 {
		tz := lex[len(lex)-6:]
		if (tz[0] == '+' || tz[0] == '-') && tz[3] == ':' {
			h, err1 := strconv.Atoi(tz[1:3])
			m, err2 := strconv.Atoi(tz[4:6])
			if err1 != nil || err2 != nil || h > 14 || m > 59 || (h == 14 && m != 0) {
				return "", 0, false, false
			}
			off := int16(h*60 + m)
			if tz[0] == '-' {
				off = -off
			}
			return lex[:len(lex)-6], off, true, true
		}
	}
	return lex, 0, false, true
}

func formatTimezone(sb *strings.Builder, v Value) {
	if !v.HasTZ {
		return
	}
	if v.Offset == 0 {
		sb.WriteByte('Z')
		return
	}
	off := int(v.Offset)
	if off < 0 {
		sb.WriteByte('-')
		off = -off
	} else {
		sb.WriteByte('+')
	}
	writePadded(sb, off/60, 2)
	sb.WriteByte(':')
	writePadded(sb, off%60, 2)
}

func writePadded(sb *strings.Builder, n, width int) {
	s := strconv.Itoa(n)
	for i := len(s); i < width; i++ {
		sb.WriteByte('0')
	}
	sb.WriteString(s)
}

func parseFixedInt(s string, width int) (int, bool) {
	if len(s) != width {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
		n = n*10 + int(s[i]-'0')
	}
	return n, true
}

// parseDateFields parses YYYY-MM-DD with a four digit, non-negative year.
func parseDateFields(s string) (year, month, day int, ok bool) {
	if len(s) != 10 || s[4] != '-' || s[7] != '-' {
		return 0, 0, 0, false
	}
	y, ok1 := parseFixedInt(s[0:4], 4)
	m, ok2 := parseFixedInt(s[5:7], 2)
	d, ok3 := parseFixedInt(s[8:10], 2)
	if !ok1 || !ok2 || !ok3 || m < 1 || m > 12 || d < 1 || d > daysIn(y, m) {
		return 0, 0, 0, false
	}
	return y, m, d, true
}

func daysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// parseTimeFields parses hh:mm:ss(.fraction)? into microseconds since midnight.
func parseTimeFields(s string) (int64, bool) {
	if len(s) < 8 || s[2] != ':' || s[5] != ':' {
		return 0, false
	}
	h, ok1 := parseFixedInt(s[0:2], 2)
	m, ok2 := parseFixedInt(s[3:5], 2)
	sec, ok3 := parseFixedInt(s[6:8], 2)
	if !ok1 || !ok2 || !ok3 || m > 59 || sec > 59 {
		return 0, false
	}
	var frac int64
	if len(s) > 8 {
		if s[8] != '.' || len(s) == 9 || len(s) > 15 {
			return 0, false
		}
		digits := s[9:]
		f, ok := parseFixedInt(digits, len(digits))
		if !ok {
			return 0, false
		}
		frac = int64(f)
		for i := len(digits); i < 6; i++ {
			frac *= 10
		}
	}
	if h > 24 || (h == 24 && (m != 0 || sec != 0 || frac != 0)) {
		return 0, false
	}
	return int64(h)*microsPerHour + int64(m)*microsPerMinute + int64(sec)*microsPerSecond + frac, true
}

func writeTimeFields(sb *strings.Builder, micros int64) {
	writePadded(sb, int(micros/microsPerHour), 2)
	sb.WriteByte(':')
	writePadded(sb, int(micros%microsPerHour/microsPerMinute), 2)
	sb.WriteByte(':')
	writePadded(sb, int(micros%microsPerMinute/microsPerSecond), 2)
	if frac := micros % microsPerSecond; frac != 0 {
		digits := strconv.FormatInt(frac+microsPerSecond, 10)[1:]
		sb.WriteByte('.')
		sb.WriteString(strings.TrimRight(digits, "0"))
	}
}

func parseDateTime(lex string) (Value, bool) {
	rest, offset, hasTZ, ok := parseTimezone(lex)
	if !ok {
		return Value{}, false
	}
	datePart, timePart, found := strings.Cut(rest, "T")
	if !found {
		return Value{}, false
	}
	y, m, d, ok := parseDateFields(datePart)
	if !ok {
		return Value{}, false
	}
	tod, ok := parseTimeFields(timePart)
	if !ok {
		return Value{}, false
	}
	wall := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC).UnixMicro() + tod
	return Value{
		DType:  DTypeDateTime,
		Ticks:  wall - int64(offset)*microsPerMinute,
		Offset: offset,
		HasTZ:  hasTZ,
	}, true
}

// wallClock returns the local time of a temporal value as a UTC time.Time.
func wallClock(v Value) time.Time {
	return time.UnixMicro(v.Ticks + int64(v.Offset)*microsPerMinute).UTC()
}

func writeDate(sb *strings.Builder, t time.Time) {
	writePadded(sb, t.Year(), 4)
	sb.WriteByte('-')
	writePadded(sb, int(t.Month()), 2)
	sb.WriteByte('-')
	writePadded(sb, t.Day(), 2)
}

func formatDateTime(v Value) string {
	var sb strings.Builder
	wall := wallClock(v)
	writeDate(&sb, wall)
	sb.WriteByte('T')
	midnight := time.Date(wall.Year(), wall.Month(), wall.Day(), 0, 0, 0, 0, time.UTC)
	writeTimeFields(&sb, wall.Sub(midnight).Microseconds())
	formatTimezone(&sb, v)
	return sb.String()
}

func parseDate(lex string) (Value, bool) {
	rest, offset, hasTZ, ok := parseTimezone(lex)
	if !ok {
		return Value{}, false
	}
	y, m, d, ok := parseDateFields(rest)
	if !ok {
		return Value{}, false
	}
	wall := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC).UnixMicro()
	return Value{
		DType:  DTypeDate,
		Ticks:  wall - int64(offset)*microsPerMinute,
		Offset: offset,
		HasTZ:  hasTZ,
	}, true
}

func formatDate(v Value) string {
	var sb strings.Builder
	writeDate(&sb, wallClock(v))
	formatTimezone(&sb, v)
	return sb.String()
}

func parseTime(lex string) (Value, bool) {
	rest, offset, hasTZ, ok := parseTimezone(lex)
	if !ok {
		return Value{}, false
	}
	tod, ok := parseTimeFields(rest)
	if !ok {
		return Value{}, false
	}
	if tod == microsPerDay {
		tod = 0
	}
	return Value{
		DType:  DTypeTime,
		Ticks:  tod - int64(offset)*microsPerMinute,
		Offset: offset,
		HasTZ:  hasTZ,
	}, true
}

func formatTime(v Value) string {
	var sb strings.Builder
	wall := (v.Ticks + int64(v.Offset)*microsPerMinute) % microsPerDay
	if wall < 0 {
		wall += microsPerDay
	}
	writeTimeFields(&sb, wall)
	formatTimezone(&sb, v)
	return sb.String()
}

// parseDuration parses -?PnYnMnDTnHnMnS. Day-time durations reject the
// year and month parts, year-month durations reject the time parts.
func parseDuration(lex string, dt DType) (Value, bool) {
	s := lex
	negative := strings.HasPrefix(s, "-")
	if negative {
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") || len(s) == 1 {
		return Value{}, false
	}
	s = s[1:]
	datePart, timePart, hasT := strings.Cut(s, "T")
	if hasT && timePart == "" {
		return Value{}, false
	}

	var months, micros int64
	seen := false
	for _, unit := range []struct {
		designator byte
		scale      int64
		isMonths   bool
	}{{'Y', 12, true}, {'M', 1, true}, {'D', microsPerDay, false}} {
		n, rest, found, ok := takeDurationPart(datePart, unit.designator)
		if !ok {
			return Value{}, false
		}
		if !found {
			continue
		}
		seen = true
		datePart = rest
		if unit.isMonths {
			months += n * unit.scale
		} else {
			micros += n * unit.scale
		}
	}
	if datePart != "" {
		return Value{}, false
	}
	for _, unit := range []struct {
		designator byte
		scale      int64
	}{{'H', microsPerHour}, {'M', microsPerMinute}} {
		n, rest, found, ok := takeDurationPart(timePart, unit.designator)
		if !ok {
			return Value{}, false
		}
		if found {
			seen = true
			timePart = rest
			micros += n * unit.scale
		}
	}
	if strings.HasSuffix(timePart, "S") {
		secs, ok := parseSeconds(timePart[:len(timePart)-1])
		if !ok {
			return Value{}, false
		}
		seen = true
		micros += secs
		timePart = ""
	}
	if timePart != "" || !seen {
		return Value{}, false
	}
	switch dt {
	case DTypeDayTimeDuration:
		if months != 0 || strings.ContainsAny(strings.Split(s, "T")[0], "YM") {
			return Value{}, false
		}
	case DTypeYearMonthDuration:
		if hasT || micros != 0 {
			return Value{}, false
		}
	}
	if negative {
		months, micros = -months, -micros
	}
	return Value{DType: dt, Months: months, Ticks: micros}, true
}

func takeDurationPart(s string, designator byte) (int64, string, bool, bool) {
	idx := strings.IndexByte(s, designator)
	if idx < 0 {
		return 0, s, false, true
	}
	n, err := strconv.ParseInt(s[:idx], 10, 64)
	if err != nil || idx == 0 || strings.Trim(s[:idx], "0123456789") != "" {
		return 0, s, false, false
	}
	return n, s[idx+1:], true, true
}

func parseSeconds(s string) (int64, bool) {
	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" || strings.Trim(whole, "0123456789") != "" {
		return 0, false
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, false
	}
	micros := w * microsPerSecond
	if hasDot {
		if frac == "" || len(frac) > 6 || strings.Trim(frac, "0123456789") != "" {
			return 0, false
		}
		f, _ := strconv.ParseInt(frac, 10, 64)
		for i := len(frac); i < 6; i++ {
			f *= 10
		}
		micros += f
	}
	return micros, true
}

func formatDuration(v Value) string {
	months, micros := v.Months, v.Ticks
	if months == 0 && micros == 0 {
		if v.DType == DTypeYearMonthDuration {
			return "P0M"
		}
		return "PT0S"
	}
	var sb strings.Builder
	if months < 0 || micros < 0 {
		sb.WriteByte('-')
		months, micros = -months, -micros
	}
	sb.WriteByte('P')
	if y := months / 12; y > 0 {
		sb.WriteString(strconv.FormatInt(y, 10))
		sb.WriteByte('Y')
	}
	if m := months % 12; m > 0 {
		sb.WriteString(strconv.FormatInt(m, 10))
		sb.WriteByte('M')
	}
	if d := micros / microsPerDay; d > 0 {
		sb.WriteString(strconv.FormatInt(d, 10))
		sb.WriteByte('D')
	}
	rem := micros % microsPerDay
	if rem == 0 {
		return sb.String()
	}
	sb.WriteByte('T')
	if h := rem / microsPerHour; h > 0 {
		sb.WriteString(strconv.FormatInt(h, 10))
		sb.WriteByte('H')
	}
	if m := rem % microsPerHour / microsPerMinute; m > 0 {
		sb.WriteString(strconv.FormatInt(m, 10))
		sb.WriteByte('M')
	}
	if s := rem % microsPerMinute; s > 0 {
		sb.WriteString(strconv.FormatInt(s/microsPerSecond, 10))
		if frac := s % microsPerSecond; frac != 0 {
			digits := strconv.FormatInt(frac+microsPerSecond, 10)[1:]
			sb.WriteByte('.')
			sb.WriteString(strings.TrimRight(digits, "0"))
		}
		sb.WriteByte('S')
	}
	return sb.String()
}
