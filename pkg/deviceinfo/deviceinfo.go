// Package deviceinfo implements the per-connection Device Info Registry
// (spec §4.5): the config-side/oper-side mirror of hardware-VTEP row state,
// plus reference counting over termination-point identifiers. Grounded on
// the teacher's cache/uuidset.go referrer-set idiom, generalized from
// bare-string sets to a status-carrying value so a referrer count reaching
// zero can drive an IN_TRANSIT transition instead of just vanishing.
package deviceinfo

import (
	"sync"
	"time"

	"github.com/mitchellh/copystructure"

	"github.com/hashsdn/hashsdn-ovsdb/pkg/ovsdb"
)

// Status is DeviceData's lifecycle state (spec §3).
type Status int

const (
	Unavailable Status = iota
	InTransit
	Available
)

func (s Status) String() string {
	switch s {
	case Unavailable:
		return "UNAVAILABLE"
	case InTransit:
		return "IN_TRANSIT"
	case Available:
		return "AVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// DefaultInTransitExpiry is the default IN_TRANSIT staleness window
// (spec §3 names a 30-60s implementation-chosen range).
const DefaultInTransitExpiry = 30 * time.Second

// DeviceData is one row's known state (spec §3).
type DeviceData struct {
	Key       string
	UUID      *ovsdb.UUID
	Payload   interface{}
	Status    Status
	TransitAt time.Time
}

// isIntransitTimeExpired reports whether d has been IN_TRANSIT longer than
// expiry, per spec §3's DeviceData invariant.
func (d DeviceData) isIntransitTimeExpired(expiry time.Duration) bool {
	return d.Status == InTransit && !d.TransitAt.IsZero() && time.Since(d.TransitAt) > expiry
}

func (d DeviceData) deepCopy() (DeviceData, error) {
	if d.Payload == nil {
		return d, nil
	}
	cp, err := copystructure.Copy(d.Payload)
	if err != nil {
		return DeviceData{}, err
	}
	out := d
	out.Payload = cp
	return out, nil
}

type classKeyMap map[string]map[string]DeviceData
type classUUIDMap map[string]map[string]interface{}

// Registry is the per-connection container described in spec §3's
// DeviceInfo type. The zero value is not usable; use New.
type Registry struct {
	mu sync.Mutex

	inTransitExpiry time.Duration

	configKeyVsData classKeyMap
	opKeyVsData     classKeyMap
	uuidVsData      classUUIDMap

	tepRefCounts map[string]map[string]struct{}

	logicalSwitchVsUcasts map[string]map[string]DeviceData
	logicalSwitchVsMcasts map[string]map[string]DeviceData
}

// New creates an empty Registry, as happens on connection establishment
// (spec §4.5's lifecycle note).
func New(inTransitExpiry time.Duration) *Registry {
	if inTransitExpiry <= 0 {
		inTransitExpiry = DefaultInTransitExpiry
	}
	return &Registry{
		inTransitExpiry:       inTransitExpiry,
		configKeyVsData:       classKeyMap{},
		opKeyVsData:           classKeyMap{},
		uuidVsData:            classUUIDMap{},
		tepRefCounts:          map[string]map[string]struct{}{},
		logicalSwitchVsUcasts: map[string]map[string]DeviceData{},
		logicalSwitchVsMcasts: map[string]map[string]DeviceData{},
	}
}

func classMapFor(m classKeyMap, class string) map[string]DeviceData {
	km, ok := m[class]
	if !ok {
		km = map[string]DeviceData{}
		m[class] = km
	}
	return km
}

// UpdateDeviceOperData implements spec §4.5's updateDeviceOperData.
func (r *Registry) UpdateDeviceOperData(class, key string, uuid *ovsdb.UUID, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data := DeviceData{Key: key, UUID: uuid, Payload: payload, Status: Available}
	classMapFor(r.opKeyVsData, class)[key] = data
	if uuid != nil {
		um, ok := r.uuidVsData[class]
		if !ok {
			um = map[string]interface{}{}
			r.uuidVsData[class] = um
		}
		um[uuid.GoUUID] = payload
	}
}

// MarkKeyAsInTransit implements spec §4.5's markKeyAsInTransit, preserving
// the current (uuid, payload) if any.
func (r *Registry) MarkKeyAsInTransit(class, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	km := classMapFor(r.opKeyVsData, class)
	data, ok := km[key]
	if !ok {
		data = DeviceData{Key: key}
	}
	data.Status = InTransit
	data.TransitAt = time.Now()
	km[key] = data
}

// ClearInTransit implements spec §4.5's clearInTransit.
func (r *Registry) ClearInTransit(class, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	km, ok := r.opKeyVsData[class]
	if !ok {
		return
	}
	data, ok := km[key]
	if !ok || data.Status != InTransit {
		return
	}
	if data.Payload == nil {
		delete(km, key)
		return
	}
	data.Status = Available
	data.TransitAt = time.Time{}
	km[key] = data
}

// ClearDeviceOperData erases the (class, key) entry, and its uuid-indexed
// mirror if bound, per spec §4.5's single-key overload.
func (r *Registry) ClearDeviceOperData(class, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	km, ok := r.opKeyVsData[class]
	if !ok {
		return
	}
	data, ok := km[key]
	if !ok {
		return
	}
	delete(km, key)
	if data.UUID != nil {
		if um, ok := r.uuidVsData[class]; ok {
			delete(um, data.UUID.GoUUID)
		}
	}
}

// ClearDeviceOperDataClass bulk-erases every entry in class except those
// currently IN_TRANSIT, per spec §4.5's class-wide overload.
func (r *Registry) ClearDeviceOperDataClass(class string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	km, ok := r.opKeyVsData[class]
	if !ok {
		return
	}
	um := r.uuidVsData[class]
	for key, data := range km {
		if data.Status == InTransit {
			continue
		}
		delete(km, key)
		if data.UUID != nil && um != nil {
			delete(um, data.UUID.GoUUID)
		}
	}
}

// IsKeyInTransit implements spec §4.5's isKeyInTransit, short-circuiting on
// a missing entry.
func (r *Registry) IsKeyInTransit(class, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	km, ok := r.opKeyVsData[class]
	if !ok {
		return false
	}
	data, ok := km[key]
	return ok && data.Status == InTransit
}

// GetOperData returns a deep copy of the current opKeyVsData entry, so a
// caller mutating the returned payload cannot corrupt the registry's own
// copy (spec §5's lock-free-reads property only holds under that
// independence).
func (r *Registry) GetOperData(class, key string) (DeviceData, bool, error) {
	r.mu.Lock()
	km, ok := r.opKeyVsData[class]
	if !ok {
		r.mu.Unlock()
		return DeviceData{}, false, nil
	}
	data, ok := km[key]
	r.mu.Unlock()
	if !ok {
		return DeviceData{}, false, nil
	}
	cp, err := data.deepCopy()
	return cp, true, err
}

// GetConfigData mirrors GetOperData for the config-side map.
func (r *Registry) GetConfigData(class, key string) (DeviceData, bool, error) {
	r.mu.Lock()
	km, ok := r.configKeyVsData[class]
	if !ok {
		r.mu.Unlock()
		return DeviceData{}, false, nil
	}
	data, ok := km[key]
	r.mu.Unlock()
	if !ok {
		return DeviceData{}, false, nil
	}
	cp, err := data.deepCopy()
	return cp, true, err
}

// UpdateConfigData records what the caller intends for (class, key),
// marking it IN_TRANSIT until a subsequent transact result confirms or
// rejects it (spec §3's DeviceInfo lifecycle note).
func (r *Registry) UpdateConfigData(class, key string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	classMapFor(r.configKeyVsData, class)[key] = DeviceData{
		Key: key, Payload: payload, Status: InTransit, TransitAt: time.Now(),
	}
}

// --- reference counting over termination points ------------------------

// IncRefCount implements spec §4.5's incRefCount, lazily creating the
// referrer set.
func (r *Registry) IncRefCount(referrer, tep string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.tepRefCounts[tep]
	if !ok {
		set = map[string]struct{}{}
		r.tepRefCounts[tep] = set
	}
	set[referrer] = struct{}{}
}

// DecRefCount implements spec §4.5's decRefCount. The dec-and-check runs
// under r.mu so that two concurrent last-reference removals cannot both
// observe an empty set and both mark-and-delete (spec §5).
func (r *Registry) DecRefCount(class, referrer, tep string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.tepRefCounts[tep]
	if !ok {
		return
	}
	delete(set, referrer)
	if len(set) > 0 {
		return
	}
	delete(r.tepRefCounts, tep)
	km := classMapFor(r.opKeyVsData, class)
	data, ok := km[tep]
	if !ok {
		data = DeviceData{Key: tep}
	}
	data.Status = InTransit
	data.TransitAt = time.Now()
	km[tep] = data
}

// --- remote MAC maps -----------------------------------------------------

func lsMapFor(m map[string]map[string]DeviceData, ls string) map[string]DeviceData {
	rows, ok := m[ls]
	if !ok {
		rows = map[string]DeviceData{}
		m[ls] = rows
	}
	return rows
}

// UpdateRemoteUcast registers a per-logical-switch unicast MAC row and
// bumps the ref count on its single locator target (spec §4.5).
func (r *Registry) UpdateRemoteUcast(lsKey, ucastKey string, locatorTep string, payload interface{}) {
	r.mu.Lock()
	lsMapFor(r.logicalSwitchVsUcasts, lsKey)[ucastKey] = DeviceData{Key: ucastKey, Payload: payload, Status: Available}
	r.mu.Unlock()
	r.IncRefCount(ucastKey, locatorTep)
}

// UpdateRemoteMcast registers a per-logical-switch multicast MAC row and
// bumps ref counts on every locator in its locator set (spec §4.5).
func (r *Registry) UpdateRemoteMcast(lsKey, mcastKey string, locatorTeps []string, payload interface{}) {
	r.mu.Lock()
	lsMapFor(r.logicalSwitchVsMcasts, lsKey)[mcastKey] = DeviceData{Key: mcastKey, Payload: payload, Status: Available}
	r.mu.Unlock()
	for _, tep := range locatorTeps {
		r.IncRefCount(mcastKey, tep)
	}
}

// RemoveRemoteUcast reverses UpdateRemoteUcast: decrements the locator's
// ref count and marks the ucast row IN_TRANSIT (spec §4.5).
func (r *Registry) RemoveRemoteUcast(class, lsKey, ucastKey, locatorTep string) {
	r.DecRefCount(class, ucastKey, locatorTep)
	r.mu.Lock()
	defer r.mu.Unlock()
	rows, ok := r.logicalSwitchVsUcasts[lsKey]
	if !ok {
		return
	}
	if data, ok := rows[ucastKey]; ok {
		data.Status = InTransit
		data.TransitAt = time.Now()
		rows[ucastKey] = data
	}
}

// RemoveRemoteMcast reverses UpdateRemoteMcast (spec §4.5).
func (r *Registry) RemoveRemoteMcast(class, lsKey, mcastKey string, locatorTeps []string) {
	for _, tep := range locatorTeps {
		r.DecRefCount(class, mcastKey, tep)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rows, ok := r.logicalSwitchVsMcasts[lsKey]
	if !ok {
		return
	}
	if data, ok := rows[mcastKey]; ok {
		data.Status = InTransit
		data.TransitAt = time.Now()
		rows[mcastKey] = data
	}
}

// referrersOf returns every tep that referrer currently holds a reference
// count against, recovered from tepRefCounts. Callers must hold r.mu.
func (r *Registry) referrersOf(referrer string) []string {
	var teps []string
	for tep, set := range r.tepRefCounts {
		if _, ok := set[referrer]; ok {
			teps = append(teps, tep)
		}
	}
	return teps
}

// ClearLogicalSwitchRefs removes every ucast/mcast row registered under
// lsKey via the individual remove path, then marks the logical switch
// itself IN_TRANSIT (spec §4.5). The locator teps each row referenced are
// recovered from the registry's own ref-count bookkeeping rather than
// asked of the caller: UpdateRemoteUcast/UpdateRemoteMcast already
// recorded them when the row was added.
func (r *Registry) ClearLogicalSwitchRefs(class, lsKey string) {
	r.mu.Lock()
	ucastLocators := make(map[string]string, len(r.logicalSwitchVsUcasts[lsKey]))
	for ucastKey := range r.logicalSwitchVsUcasts[lsKey] {
		if teps := r.referrersOf(ucastKey); len(teps) > 0 {
			ucastLocators[ucastKey] = teps[0]
		}
	}
	mcastLocators := make(map[string][]string, len(r.logicalSwitchVsMcasts[lsKey]))
	for mcastKey := range r.logicalSwitchVsMcasts[lsKey] {
		mcastLocators[mcastKey] = r.referrersOf(mcastKey)
	}
	r.mu.Unlock()

	for ucastKey, tep := range ucastLocators {
		r.RemoveRemoteUcast(class, lsKey, ucastKey, tep)
	}
	for mcastKey, teps := range mcastLocators {
		r.RemoveRemoteMcast(class, lsKey, mcastKey, teps)
	}
	r.MarkKeyAsInTransit(class, lsKey)
}

// IsInTransitExpired reports whether the (class, key) opKeyVsData entry has
// been IN_TRANSIT longer than the registry's configured expiry, used by the
// Dependency Queue's readiness check (spec §4.6).
func (r *Registry) IsInTransitExpired(class, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	km, ok := r.opKeyVsData[class]
	if !ok {
		return false
	}
	data, ok := km[key]
	if !ok {
		return false
	}
	return data.isIntransitTimeExpired(r.inTransitExpiry)
}
