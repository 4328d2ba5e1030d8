package server

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/logging"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/meta"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/pushmonitor"
	"github.com/kuaishou/open_routing_keeper/routing_keeper/version"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type errorResponse struct {
	Error string `json:"error"`
}

type resourcesResponse struct {
	Resources []string `json:"resources"`
}

type partitionView struct {
	Id        int              `json:"id"`
	Instances []*meta.Instance `json:"instances"`
}

type partitionsResponse struct {
	Resource       string           `json:"resource"`
	PartitionCount *int             `json:"partition_count,omitempty"`
	Partitions     []*partitionView `json:"partitions"`
}

type instancesResponse struct {
	Resource  string           `json:"resource"`
	Partition int              `json:"partition"`
	Instances []*meta.Instance `json:"instances"`
}

type pushStatusResponse struct {
	Topic   string `json:"topic"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

func (s *Server) writeJson(w http.ResponseWriter, code int, output interface{}) {
	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		logging.Error("%s: marshal data error: %s", s.myself, err.Error())
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(code)
	w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, meta.ErrNotFound) {
		code = http.StatusNotFound
	}
	s.writeJson(w, code, &errorResponse{Error: err.Error()})
}

func (s *Server) badRequest(w http.ResponseWriter, format string, args ...interface{}) {
	s.writeJson(w, http.StatusBadRequest, &errorResponse{Error: errors.Errorf(format, args...).Error()})
}

func (s *Server) listResources(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, &resourcesResponse{Resources: s.repo.ListResources()})
}

func (s *Server) getPartitions(w http.ResponseWriter, r *http.Request) {
	resource := mux.Vars(r)["resource"]
	// both come from one table
	table := s.repo.Table()
	parts, err := table.Partitions(resource)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := &partitionsResponse{Resource: resource, Partitions: []*partitionView{}}
	if count, err := table.PartitionCount(resource); err == nil {
		resp.PartitionCount = &count
	}
	for _, p := range parts {
		resp.Partitions = append(resp.Partitions, &partitionView{Id: p.Id, Instances: p.Instances})
	}
	sort.Slice(resp.Partitions, func(i, j int) bool {
		return resp.Partitions[i].Id < resp.Partitions[j].Id
	})
	s.writeJson(w, http.StatusOK, resp)
}

func (s *Server) getInstances(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	partition, err := strconv.Atoi(vars["partition"])
	if err != nil {
		s.badRequest(w, "invalid partition %q", vars["partition"])
		return
	}
	instances, err := s.repo.GetInstances(vars["resource"], partition)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJson(w, http.StatusOK, &instancesResponse{
		Resource:  vars["resource"],
		Partition: partition,
		Instances: instances,
	})
}

func (s *Server) getLeader(w http.ResponseWriter, r *http.Request) {
	leader, err := s.repo.GetLeader()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJson(w, http.StatusOK, leader)
}

func (s *Server) getPushStatus(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	topic := query.Get("topic")
	if topic == "" {
		s.badRequest(w, "topic is required")
		return
	}
	if _, _, err := pushmonitor.ParseVersionTopic(topic); err != nil {
		s.badRequest(w, "%v", err)
		return
	}
	partitions, err := strconv.Atoi(query.Get("partitions"))
	if err != nil || partitions <= 0 {
		s.badRequest(w, "invalid partitions %q", query.Get("partitions"))
		return
	}

	pm := &s.config.PushMonitor
	req := &pushmonitor.PushStatusRequest{
		Topic:                   topic,
		PartitionCount:          partitions,
		IncrementalPushVersion:  query.Get("incremental_push_version"),
		MaxOfflineInstanceCount: pm.MaxOfflineInstanceCount,
		MaxOfflineInstanceRatio: pm.MaxOfflineInstanceRatio,
		UseSpecificErrorStatus:  pm.UseSpecificErrorStatus,
		InstancesToIgnore:       pm.InstancesToIgnore,
	}
	if ignore := query.Get("ignore"); ignore != "" {
		req.InstancesToIgnore = append(append([]string{}, pm.InstancesToIgnore...), strings.Split(ignore, ",")...)
	}
	ans := s.aggregator.GetPushStatusAndDetails(req)
	s.writeJson(w, http.StatusOK, &pushStatusResponse{
		Topic:   topic,
		Status:  ans.Status.String(),
		Code:    ans.Status.Code(),
		Details: ans.Details,
	})
}

func (s *Server) router() *mux.Router {
	router := mux.NewRouter().StrictSlash(true)

	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	router.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(version.Describe()))
	})
	router.HandleFunc("/debug/pprof/", pprof.Index)
	router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
	router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	v1 := router.PathPrefix("/v1").Methods(http.MethodGet).Subrouter()
	v1.Name("ListResources").Path("/resources").HandlerFunc(s.listResources)
	v1.Name("GetPartitions").Path("/resources/{resource}/partitions").HandlerFunc(s.getPartitions)
	v1.Name("GetInstances").
		Path("/resources/{resource}/partitions/{partition}/instances").
		HandlerFunc(s.getInstances)
	v1.Name("GetLeader").Path("/leader").HandlerFunc(s.getLeader)
	v1.Name("GetPushStatus").Path("/push_status").HandlerFunc(s.getPushStatus)
	return router
}
