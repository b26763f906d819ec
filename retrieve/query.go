package retrieve

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	log "github.com/sirupsen/logrus"

	"github.com/caio-sobreiro/dicomfetch/dicom"
	dicomerrors "github.com/caio-sobreiro/dicomfetch/errors"
	"github.com/caio-sobreiro/dicomfetch/metrics"
	"github.com/caio-sobreiro/dicomfetch/types"
)

// failureTTL keeps failed queries from hammering an unreachable peer.
const failureTTL = 2 * time.Second

// queryDefaults are the return keys requested at each level. A level also
// requests the keys of every level above it.
var queryDefaults = map[types.QueryLevel][]dicom.Tag{
	types.QueryLevelPatient: {
		dicom.TagPatientID,
		dicom.TagPatientName,
		dicom.TagPatientBirthDate,
	},
	types.QueryLevelStudy: {
		dicom.TagStudyInstanceUID,
		dicom.TagStudyID,
		dicom.TagStudyDate,
		dicom.TagStudyTime,
		dicom.TagModality,
		dicom.TagStudyDescription,
		dicom.TagAccessionNumber,
	},
	types.QueryLevelSeries: {
		dicom.TagSeriesInstanceUID,
		dicom.TagModality,
		dicom.TagSeriesNumber,
		dicom.TagStationName,
	},
	types.QueryLevelImage: {
		dicom.TagSOPClassUID,
		dicom.TagSOPInstanceUID,
		dicom.TagStationName,
		dicom.TagInstanceNumber,
		dicom.TagManufacturerModelName,
		dicom.TagProtocolName,
		dicom.TagExposureTime,
		dicom.TagKVP,
		dicom.TagContentDate,
		dicom.TagContentTime,
		dicom.TagXRayTubeCurrent,
	},
}

type queryResult struct {
	datasets []*dicom.Dataset
	status   uint16
}

// QueryIdentifier builds a C-FIND identifier for level: the default return
// keys of level and the levels above it, PatientID matching everything,
// then keys by attribute keyword.
func QueryIdentifier(level types.QueryLevel, keys map[string]string) (*dicom.Dataset, error) {
	if !level.Valid() {
		return nil, dicomerrors.NewConfigurationError("QueryRetrieveLevel", types.StatusFindMissingIdentifier, "unknown query level "+string(level), nil)
	}
	ds := dicom.NewDataset()
	for _, l := range types.QueryLevels[:level.Depth()+1] {
		for _, tag := range queryDefaults[l] {
			ds.SetString(tag, "")
		}
	}
	ds.SetString(dicom.TagPatientID, "*")
	ds.SetString(dicom.TagQueryRetrieveLevel, string(level))

	for keyword, value := range keys {
		tag, vr, ok := dicom.LookupKeyword(keyword)
		if !ok {
			return nil, dicomerrors.NewConfigurationError(keyword, types.StatusFindMissingIdentifier, "unknown attribute keyword", nil)
		}
		ds.AddElement(tag, vr, value)
	}
	return ds, nil
}

func queryKey(level types.QueryLevel, keys map[string]string) string {
	parts := make([]string, 0, len(keys)+1)
	for keyword, value := range keys {
		parts = append(parts, keyword+"="+value)
	}
	sort.Strings(parts)
	return string(level) + "|" + strings.Join(parts, "|")
}

// Query runs a Patient Root C-FIND at level with keys, keyed by attribute
// keyword, and returns the matches with the final status. Without keys
// nothing is sent and the status is StatusFindMissingIdentifier. Identical
// queries share one exchange and their results for the query cache TTL;
// callers must not modify the returned datasets.
func (r *Retriever) Query(ctx context.Context, level types.QueryLevel, keys map[string]string) ([]*dicom.Dataset, uint16) {
	logger := r.logger.WithField("level", level)
	if len(keys) == 0 {
		logger.Warn("Query without keys")
		return nil, types.StatusFindMissingIdentifier
	}
	identifier, err := QueryIdentifier(level, keys)
	if err != nil {
		logger.WithError(err).Warn("Invalid query")
		status, _ := dicomerrors.StatusOf(err)
		return nil, status
	}

	if r.queries == nil {
		res := r.find(ctx, identifier, logger)
		return res.datasets, res.status
	}

	r.startJanitor()
	key := queryKey(level, keys)
	loader := ttlcache.LoaderFunc[string, queryResult](
		func(c *ttlcache.Cache[string, queryResult], key string) *ttlcache.Item[string, queryResult] {
			res := r.find(ctx, identifier, logger)
			if res.status == types.StatusCancel {
				// A cancelled exchange says nothing about the peer.
				item := c.Set(key, res, failureTTL)
				c.Delete(key)
				return item
			}
			ttl := ttlcache.DefaultTTL
			if res.status != types.StatusSuccess {
				ttl = failureTTL
			}
			return c.Set(key, res, ttl)
		},
	)
	suppressed := ttlcache.WithLoader[string, queryResult](ttlcache.NewSuppressedLoader[string, queryResult](loader, &r.queryGroup))
	item := r.queries.Get(key, suppressed)
	if item != nil && item.Value().status == types.StatusCancel && ctx.Err() == nil {
		// Joined an exchange whose caller went away.
		item = r.queries.Get(key, suppressed)
	}
	r.recordCacheMetrics()
	if item == nil {
		return nil, types.StatusUnableToProcess
	}
	res := item.Value()
	return res.datasets, res.status
}

func (r *Retriever) find(ctx context.Context, identifier *dicom.Dataset, logger *log.Entry) queryResult {
	association, status := r.manager.EnsureAssociation(ctx)
	if status != types.StatusSuccess {
		return queryResult{status: status}
	}

	var results []*dicom.Dataset
	final, err := association.SendFind(ctx, FindRequest{
		MessageID:  r.nextRequestID(),
		Model:      types.PatientRootQueryRetrieveInformationModelFind,
		Identifier: identifier,
	}, func(rsp FindResponse) {
		if types.IsPendingStatus(rsp.Status) && rsp.Identifier != nil {
			results = append(results, rsp.Identifier)
		}
	})
	switch {
	case err != nil && ctx.Err() != nil:
		logger.WithError(err).Info("C-FIND cancelled")
		return queryResult{datasets: results, status: types.StatusCancel}
	case err != nil && !association.Alive():
		logger.WithError(err).Warn("Association lost during C-FIND")
		r.manager.Drop(association)
		return queryResult{datasets: results, status: types.StatusConnectFailed}
	case err != nil:
		status, ok := dicomerrors.StatusOf(err)
		if !ok {
			status = types.StatusUnableToProcess
		}
		logger.WithError(err).Warn("C-FIND failed")
		return queryResult{datasets: results, status: status}
	}

	logger.WithFields(log.Fields{
		"matches": len(results),
		"status":  types.StatusString(final.Status),
	}).Debug("C-FIND finished")
	return queryResult{datasets: results, status: final.Status}
}

func (r *Retriever) recordCacheMetrics() {
	m := r.queries.Metrics()
	metrics.QueryCache.WithLabelValues("insertions").Set(float64(m.Insertions))
	metrics.QueryCache.WithLabelValues("hits").Set(float64(m.Hits))
	metrics.QueryCache.WithLabelValues("misses").Set(float64(m.Misses))
	metrics.QueryCache.WithLabelValues("evictions").Set(float64(m.Evictions))
	metrics.QueryCache.WithLabelValues("total").Set(float64(r.queries.Len()))
}
