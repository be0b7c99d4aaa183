// Package cadets decodes CADETS audit traces, the FreeBSD DTrace-based
// JSON format, and maps each record onto the provenance graph.
package cadets

import (
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sysprov/pvm/errors"
	"github.com/sysprov/pvm/graph"
)

// Edge labels produced by the mapping. Influence edges point in the
// direction of data flow: object to process for reads, process to object
// for writes.
const (
	labelExec    = "exec"
	labelFork    = "fork"
	labelRead    = "read"
	labelWrite   = "write"
	labelSend    = "send"
	labelRecv    = "recv"
	labelSetAttr = "setattr"
	labelPair    = "pair"
)

// AuditEvent is one CADETS audit record. Optional fields are pointers so
// absence is distinguishable from a zero value.
type AuditEvent struct {
	Event        string    `json:"event"`
	TimeNanos    int64     `json:"time"`
	PID          int32     `json:"pid"`
	PPID         int32     `json:"ppid"`
	TID          int32     `json:"tid"`
	UID          int32     `json:"uid"`
	Exec         string    `json:"exec"`
	Retval       int32     `json:"retval"`
	SubjProcUUID uuid.UUID `json:"subjprocuuid"`
	SubjThrUUID  uuid.UUID `json:"subjthruuid"`

	Host            *uuid.UUID `json:"host,omitempty"`
	FD              *int32     `json:"fd,omitempty"`
	CPUID           *int32     `json:"cpu_id,omitempty"`
	Cmdline         *string    `json:"cmdline,omitempty"`
	UPath1          *string    `json:"upath1,omitempty"`
	UPath2          *string    `json:"upath2,omitempty"`
	Flags           *int32     `json:"flags,omitempty"`
	FDPath          *string    `json:"fdpath,omitempty"`
	ArgObjUUID1     *uuid.UUID `json:"arg_objuuid1,omitempty"`
	ArgObjUUID2     *uuid.UUID `json:"arg_objuuid2,omitempty"`
	RetObjUUID1     *uuid.UUID `json:"ret_objuuid1,omitempty"`
	RetObjUUID2     *uuid.UUID `json:"ret_objuuid2,omitempty"`
	RetFD1          *int32     `json:"ret_fd1,omitempty"`
	RetFD2          *int32     `json:"ret_fd2,omitempty"`
	ArgMemFlags     []string   `json:"arg_mem_flags,omitempty"`
	ArgSharingFlags []string   `json:"arg_sharing_flags,omitempty"`
	Address         *string    `json:"address,omitempty"`
	Port            *uint16    `json:"port,omitempty"`
}

// Name returns the audit event type string.
func (ev *AuditEvent) Name() string { return ev.Event }

// Time returns the record's own timestamp. CADETS carries nanoseconds
// since the epoch.
func (ev *AuditEvent) Time() time.Time { return time.Unix(0, ev.TimeNanos).UTC() }

func (ev *AuditEvent) missing(field string) error {
	return errors.Wrapf(errors.ErrCorruptRecord, "%s: missing field %s", ev.Event, field)
}

func (ev *AuditEvent) requireUUID(p *uuid.UUID, field string) (uuid.UUID, error) {
	if p == nil {
		return uuid.Nil, ev.missing(field)
	}
	return *p, nil
}

func (ev *AuditEvent) requireStr(p *string, field string) (string, error) {
	if p == nil {
		return "", ev.missing(field)
	}
	return *p, nil
}

// Apply maps the record onto the graph. The subject process is resolved
// for every record, including types with no further mapping; the trace
// may mention a process long before its fork is observed.
func (ev *AuditEvent) Apply(m *graph.Mutation) (bool, error) {
	pro, _ := m.Declare(graph.KindProcess, ev.SubjProcUUID, map[string]string{
		"pid":  strconv.Itoa(int(ev.PID)),
		"exec": ev.Exec,
	})

	switch ev.Event {
	case "audit:event:aue_execve:":
		return true, ev.exec(m, pro)
	case "audit:event:aue_fork:", "audit:event:aue_pdfork:", "audit:event:aue_vfork:":
		return true, ev.fork(m, pro)
	case "audit:event:aue_exit:":
		m.Release(ev.SubjProcUUID)
		return true, nil
	case "audit:event:aue_open_rwtc:", "audit:event:aue_openat_rwtc:":
		return true, ev.open(m)
	case "audit:event:aue_read:", "audit:event:aue_pread:":
		return true, ev.read(m, pro)
	case "audit:event:aue_write:", "audit:event:aue_pwrite:", "audit:event:aue_writev:":
		return true, ev.write(m, pro)
	case "audit:event:aue_close:":
		return true, ev.close(m)
	case "audit:event:aue_mmap:":
		return true, ev.mmap(m, pro)
	case "audit:event:aue_socket:":
		return true, ev.socket(m)
	case "audit:event:aue_listen:":
		return true, ev.listen(m)
	case "audit:event:aue_bind:", "audit:event:aue_connect:":
		return true, ev.bindConnect(m)
	case "audit:event:aue_accept:":
		return true, ev.accept(m)
	case "audit:event:aue_socketpair:":
		return true, ev.socketpair(m)
	case "audit:event:aue_pipe:":
		return true, ev.pipe(m)
	case "audit:event:aue_sendmsg:", "audit:event:aue_sendto:":
		return true, ev.sendOrRecv(m, pro, labelSend)
	case "audit:event:aue_recvmsg:", "audit:event:aue_recvfrom:":
		return true, ev.sendOrRecv(m, pro, labelRecv)
	case "audit:event:aue_chdir:", "audit:event:aue_fchdir:":
		return true, ev.chdir(m)
	case "audit:event:aue_chmod:", "audit:event:aue_fchmodat:", "audit:event:aue_chown:":
		return true, ev.setAttrByPath(m, pro)
	case "audit:event:aue_fchmod:", "audit:event:aue_fchown:":
		return true, ev.setAttrByFD(m, pro)
	case "audit:event:aue_posix_openpt:":
		return true, ev.openpt(m)
	case "audit:event:aue_link:":
		return true, ev.link(m)
	case "audit:event:aue_rename:":
		return true, ev.rename(m)
	case "audit:event:aue_unlink:":
		return true, ev.unlink(m)
	case "audit:event:aue_dup2:":
		// Descriptor duplication carries no provenance.
		return true, nil
	default:
		return false, nil
	}
}

// declareFile resolves a file entity, recording its path when known. The
// kernel reports "<unknown>" for descriptors it cannot resolve.
func (ev *AuditEvent) declareFile(m *graph.Mutation, key uuid.UUID, path *string) graph.ID {
	attrs := map[string]string{}
	if path != nil && *path != "<unknown>" {
		attrs["path"] = *path
	}
	id, _ := m.Declare(graph.KindFile, key, attrs)
	return id
}

// sockAttrs derives a socket's name from either its filesystem path
// (unix domain) or its address and port.
func (ev *AuditEvent) sockAttrs() (map[string]string, error) {
	switch {
	case ev.UPath1 != nil:
		return map[string]string{"path": *ev.UPath1}, nil
	case ev.Port != nil:
		addr, err := ev.requireStr(ev.Address, "address")
		if err != nil {
			return nil, err
		}
		return map[string]string{"addr": net.JoinHostPort(addr, strconv.Itoa(int(*ev.Port)))}, nil
	default:
		return nil, ev.missing("upath1, port")
	}
}

func (ev *AuditEvent) exec(m *graph.Mutation, pro graph.ID) error {
	cmdline, err := ev.requireStr(ev.Cmdline, "cmdline")
	if err != nil {
		return err
	}
	binUUID, err := ev.requireUUID(ev.ArgObjUUID1, "arg_objuuid1")
	if err != nil {
		return err
	}
	if _, err = ev.requireStr(ev.UPath1, "upath1"); err != nil {
		return err
	}
	ldUUID, err := ev.requireUUID(ev.ArgObjUUID2, "arg_objuuid2")
	if err != nil {
		return err
	}
	if _, err = ev.requireStr(ev.UPath2, "upath2"); err != nil {
		return err
	}

	bin := ev.declareFile(m, binUUID, ev.UPath1)
	ld := ev.declareFile(m, ldUUID, ev.UPath2)

	m.Merge(pro, map[string]string{"cmdline": cmdline})
	m.Connect(bin, pro, labelExec)
	m.Connect(ld, pro, labelExec)
	return nil
}

func (ev *AuditEvent) fork(m *graph.Mutation, pro graph.ID) error {
	chUUID, err := ev.requireUUID(ev.RetObjUUID1, "ret_objuuid1")
	if err != nil {
		return err
	}
	// The child inherits the parent's image; its pid is the fork's
	// return value in the parent.
	ch, _ := m.Declare(graph.KindProcess, chUUID, map[string]string{
		"pid":  strconv.Itoa(int(ev.Retval)),
		"exec": ev.Exec,
	})
	m.Connect(pro, ch, labelFork)
	return nil
}

func (ev *AuditEvent) open(m *graph.Mutation) error {
	fUUID, err := ev.requireUUID(ev.RetObjUUID1, "ret_objuuid1")
	if err != nil {
		return err
	}
	if _, err = ev.requireStr(ev.UPath1, "upath1"); err != nil {
		return err
	}
	ev.declareFile(m, fUUID, ev.UPath1)
	return nil
}

func (ev *AuditEvent) read(m *graph.Mutation, pro graph.ID) error {
	fUUID, err := ev.requireUUID(ev.ArgObjUUID1, "arg_objuuid1")
	if err != nil {
		return err
	}
	f := ev.declareFile(m, fUUID, ev.FDPath)
	m.Connect(f, pro, labelRead)
	return nil
}

func (ev *AuditEvent) write(m *graph.Mutation, pro graph.ID) error {
	fUUID, err := ev.requireUUID(ev.ArgObjUUID1, "arg_objuuid1")
	if err != nil {
		return err
	}
	f := ev.declareFile(m, fUUID, ev.FDPath)
	m.Connect(pro, f, labelWrite)
	return nil
}

func (ev *AuditEvent) close(m *graph.Mutation) error {
	// Close of an unresolved descriptor carries no object.
	if ev.ArgObjUUID1 != nil {
		ev.declareFile(m, *ev.ArgObjUUID1, nil)
	}
	return nil
}

func (ev *AuditEvent) mmap(m *graph.Mutation, pro graph.ID) error {
	fUUID, err := ev.requireUUID(ev.ArgObjUUID1, "arg_objuuid1")
	if err != nil {
		return err
	}
	f := ev.declareFile(m, fUUID, ev.FDPath)

	if contains(ev.ArgMemFlags, "PROT_WRITE") && !contains(ev.ArgSharingFlags, "MAP_PRIVATE") {
		m.Connect(pro, f, labelWrite)
	}
	if contains(ev.ArgMemFlags, "PROT_READ") {
		m.Connect(f, pro, labelRead)
	}
	return nil
}

func (ev *AuditEvent) socket(m *graph.Mutation) error {
	sUUID, err := ev.requireUUID(ev.RetObjUUID1, "ret_objuuid1")
	if err != nil {
		return err
	}
	m.Declare(graph.KindSocket, sUUID, nil)
	return nil
}

func (ev *AuditEvent) listen(m *graph.Mutation) error {
	sUUID, err := ev.requireUUID(ev.ArgObjUUID1, "arg_objuuid1")
	if err != nil {
		return err
	}
	m.Declare(graph.KindSocket, sUUID, nil)
	return nil
}

func (ev *AuditEvent) bindConnect(m *graph.Mutation) error {
	sUUID, err := ev.requireUUID(ev.ArgObjUUID1, "arg_objuuid1")
	if err != nil {
		return err
	}
	attrs, err := ev.sockAttrs()
	if err != nil {
		return err
	}
	m.Declare(graph.KindSocket, sUUID, attrs)
	return nil
}

func (ev *AuditEvent) accept(m *graph.Mutation) error {
	lUUID, err := ev.requireUUID(ev.ArgObjUUID1, "arg_objuuid1")
	if err != nil {
		return err
	}
	rUUID, err := ev.requireUUID(ev.RetObjUUID1, "ret_objuuid1")
	if err != nil {
		return err
	}
	attrs, err := ev.sockAttrs()
	if err != nil {
		return err
	}
	m.Declare(graph.KindSocket, lUUID, nil)
	m.Declare(graph.KindSocket, rUUID, attrs)
	return nil
}

func (ev *AuditEvent) socketpair(m *graph.Mutation) error {
	u1, err := ev.requireUUID(ev.RetObjUUID1, "ret_objuuid1")
	if err != nil {
		return err
	}
	u2, err := ev.requireUUID(ev.RetObjUUID2, "ret_objuuid2")
	if err != nil {
		return err
	}
	s1, _ := m.Declare(graph.KindSocket, u1, nil)
	s2, _ := m.Declare(graph.KindSocket, u2, nil)
	m.Connect(s1, s2, labelPair)
	m.Connect(s2, s1, labelPair)
	return nil
}

func (ev *AuditEvent) pipe(m *graph.Mutation) error {
	u1, err := ev.requireUUID(ev.RetObjUUID1, "ret_objuuid1")
	if err != nil {
		return err
	}
	if ev.RetFD1 == nil {
		return ev.missing("ret_fd1")
	}
	p1, _ := m.Declare(graph.KindPipe, u1, map[string]string{
		"fd": strconv.Itoa(int(*ev.RetFD1)),
	})

	// A one-ended pipe record describes a named fifo.
	if ev.RetObjUUID2 == nil {
		return nil
	}
	if ev.RetFD2 == nil {
		return ev.missing("ret_fd2")
	}
	p2, _ := m.Declare(graph.KindPipe, *ev.RetObjUUID2, map[string]string{
		"fd": strconv.Itoa(int(*ev.RetFD2)),
	})
	m.Connect(p1, p2, labelPair)
	m.Connect(p2, p1, labelPair)
	return nil
}

func (ev *AuditEvent) sendOrRecv(m *graph.Mutation, pro graph.ID, label string) error {
	sUUID, err := ev.requireUUID(ev.ArgObjUUID1, "arg_objuuid1")
	if err != nil {
		return err
	}
	attrs, err := ev.sockAttrs()
	if err != nil {
		return err
	}
	s, _ := m.Declare(graph.KindSocket, sUUID, attrs)
	if label == labelRecv {
		m.Connect(s, pro, label)
	} else {
		m.Connect(pro, s, label)
	}
	return nil
}

func (ev *AuditEvent) chdir(m *graph.Mutation) error {
	dUUID, err := ev.requireUUID(ev.ArgObjUUID1, "arg_objuuid1")
	if err != nil {
		return err
	}
	ev.declareFile(m, dUUID, ev.UPath1)
	return nil
}

func (ev *AuditEvent) setAttrByPath(m *graph.Mutation, pro graph.ID) error {
	fUUID, err := ev.requireUUID(ev.ArgObjUUID1, "arg_objuuid1")
	if err != nil {
		return err
	}
	if _, err = ev.requireStr(ev.UPath1, "upath1"); err != nil {
		return err
	}
	f := ev.declareFile(m, fUUID, ev.UPath1)
	m.Connect(pro, f, labelSetAttr)
	return nil
}

func (ev *AuditEvent) setAttrByFD(m *graph.Mutation, pro graph.ID) error {
	fUUID, err := ev.requireUUID(ev.ArgObjUUID1, "arg_objuuid1")
	if err != nil {
		return err
	}
	f := ev.declareFile(m, fUUID, nil)
	m.Connect(pro, f, labelSetAttr)
	return nil
}

func (ev *AuditEvent) openpt(m *graph.Mutation) error {
	tUUID, err := ev.requireUUID(ev.RetObjUUID1, "ret_objuuid1")
	if err != nil {
		return err
	}
	m.Declare(graph.KindPtty, tUUID, nil)
	return nil
}

func (ev *AuditEvent) link(m *graph.Mutation) error {
	fUUID, err := ev.requireUUID(ev.ArgObjUUID1, "arg_objuuid1")
	if err != nil {
		return err
	}
	if _, err = ev.requireStr(ev.UPath1, "upath1"); err != nil {
		return err
	}
	newPath, err := ev.requireStr(ev.UPath2, "upath2")
	if err != nil {
		return err
	}
	f := ev.declareFile(m, fUUID, ev.UPath1)
	m.Merge(f, map[string]string{"path": newPath})
	return nil
}

func (ev *AuditEvent) rename(m *graph.Mutation) error {
	fUUID, err := ev.requireUUID(ev.ArgObjUUID1, "arg_objuuid1")
	if err != nil {
		return err
	}
	if _, err = ev.requireStr(ev.UPath1, "upath1"); err != nil {
		return err
	}
	dst, err := ev.requireStr(ev.UPath2, "upath2")
	if err != nil {
		return err
	}
	// An overwritten destination loses its path binding.
	if ev.ArgObjUUID2 != nil {
		ev.declareFile(m, *ev.ArgObjUUID2, nil)
	}
	f := ev.declareFile(m, fUUID, ev.UPath1)
	m.Merge(f, map[string]string{"path": dst})
	return nil
}

func (ev *AuditEvent) unlink(m *graph.Mutation) error {
	fUUID, err := ev.requireUUID(ev.ArgObjUUID1, "arg_objuuid1")
	if err != nil {
		return err
	}
	if _, err = ev.requireStr(ev.UPath1, "upath1"); err != nil {
		return err
	}
	ev.declareFile(m, fUUID, ev.UPath1)
	return nil
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
